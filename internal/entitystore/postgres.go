package entitystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

const entitiesTable = "integration_entities"

var entityColumns = []any{
	"code", "name", "entity_type", "integration_id", "source", "active_erp",
	"can_schedule", "version", "params", "speciality_code", "speciality_type",
	"insurance_code", "insurance_plan_code",
}

const conflictTarget = "integration_id, entity_type, code, speciality_code, speciality_type, insurance_code, insurance_plan_code"

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres Repository.
type PGStore struct {
	db      DB
	dialect goqu.DialectWrapper
	now     func() time.Time
}

var _ Repository = (*PGStore)(nil)

// NewPGStore creates a store on db.
func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db, dialect: goqu.Dialect("postgres"), now: time.Now}
}

func activeCondition() exp.Expression {
	return goqu.Or(
		goqu.Ex{"active_erp": true},
		goqu.Ex{"source": string(scheduling.SourceUser)},
	)
}

func (s *PGStore) selectEntities(where ...exp.Expression) (string, []any, error) {
	return s.dialect.From(entitiesTable).Prepared(true).
		Select(entityColumns...).
		Where(where...).
		Order(goqu.I("name").Asc(), goqu.I("code").Asc()).
		ToSQL()
}

func (s *PGStore) query(ctx context.Context, op string, where ...exp.Expression) ([]scheduling.Entity, error) {
	query, args, err := s.selectEntities(where...)
	if err != nil {
		return nil, fmt.Errorf("entitystore: build %s: %w", op, err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("entitystore: %s: %w", op, err)
	}
	defer rows.Close()
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, fmt.Errorf("entitystore: %s: %w", op, err)
	}
	return entities, nil
}

func (s *PGStore) FindByCodes(ctx context.Context, integrationID string, entityType scheduling.EntityType, codes []string) ([]scheduling.Entity, error) {
	if len(codes) == 0 {
		return []scheduling.Entity{}, nil
	}
	return s.query(ctx, "find by codes",
		goqu.Ex{"integration_id": integrationID, "entity_type": string(entityType), "code": codes},
		activeCondition(),
	)
}

func (s *PGStore) GetEntityByCode(ctx context.Context, lookup scheduling.EntityLookup) (*scheduling.Entity, error) {
	where := goqu.Ex{
		"integration_id": lookup.IntegrationID,
		"entity_type":    string(lookup.EntityType),
		"code":           lookup.Code,
	}
	if lookup.SpecialityCode != "" {
		where["speciality_code"] = lookup.SpecialityCode
	}
	if lookup.SpecialityType != "" {
		where["speciality_type"] = lookup.SpecialityType
	}
	if lookup.InsuranceCode != "" {
		where["insurance_code"] = lookup.InsuranceCode
	}
	if lookup.InsurancePlanCode != "" {
		where["insurance_plan_code"] = lookup.InsurancePlanCode
	}
	entities, err := s.query(ctx, "get entity by code", where, activeCondition())
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, scheduling.NotFound("entitystore.GetEntityByCode", "%s %s not found", lookup.EntityType, lookup.Code)
	}
	return &entities[0], nil
}

func (s *PGStore) GetValidEntitiesByCode(ctx context.Context, integrationID string, entityType scheduling.EntityType, codes []string) ([]scheduling.Entity, error) {
	if len(codes) == 0 {
		return []scheduling.Entity{}, nil
	}
	return s.query(ctx, "get valid entities",
		goqu.Ex{"integration_id": integrationID, "entity_type": string(entityType), "code": codes, "can_schedule": true},
		activeCondition(),
	)
}

func (s *PGStore) GetActiveEntities(ctx context.Context, integrationID string, entityType scheduling.EntityType) ([]scheduling.Entity, error) {
	return s.query(ctx, "get active entities",
		goqu.Ex{"integration_id": integrationID, "entity_type": string(entityType)},
		activeCondition(),
	)
}

func (s *PGStore) UpsertEntities(ctx context.Context, entities []scheduling.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([]any, 0, len(entities))
	for _, e := range entities {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("entitystore: encode params for %s: %w", e.Code, err)
		}
		source := e.Source
		if source == "" {
			source = scheduling.SourceERP
		}
		rows = append(rows, goqu.Record{
			"code":                e.Code,
			"name":                e.Name,
			"entity_type":         string(e.EntityType),
			"integration_id":      e.IntegrationID,
			"source":              string(source),
			"active_erp":          e.ActiveErp,
			"can_schedule":        e.CanSchedule,
			"version":             e.Version,
			"params":              string(params),
			"speciality_code":     e.SpecialityCode,
			"speciality_type":     e.SpecialityType,
			"insurance_code":      e.InsuranceCode,
			"insurance_plan_code": e.InsurancePlanCode,
			"created_at":          now,
			"updated_at":          now,
		})
	}
	query, args, err := s.dialect.Insert(entitiesTable).Prepared(true).
		Rows(rows...).
		OnConflict(goqu.DoUpdate(conflictTarget, goqu.Record{
			"name":       goqu.L("EXCLUDED.name"),
			"active_erp": goqu.L("EXCLUDED.active_erp"),
			"version":    goqu.L("EXCLUDED.version"),
			"updated_at": goqu.L("EXCLUDED.updated_at"),
		})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("entitystore: build upsert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("entitystore: upsert entities: %w", err)
	}
	return nil
}

func (s *PGStore) DeactivateMissing(ctx context.Context, integrationID string, entityType scheduling.EntityType, keep []string) (int64, error) {
	where := []exp.Expression{
		goqu.Ex{
			"integration_id": integrationID,
			"entity_type":    string(entityType),
			"source":         string(scheduling.SourceERP),
			"active_erp":     true,
		},
	}
	if len(keep) > 0 {
		where = append(where, goqu.C("code").NotIn(keep))
	}
	query, args, err := s.dialect.Update(entitiesTable).Prepared(true).
		Set(goqu.Record{"active_erp": false, "updated_at": s.now().UTC()}).
		Where(where...).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("entitystore: build deactivate: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("entitystore: deactivate missing: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntities(rows pgx.Rows) ([]scheduling.Entity, error) {
	entities := []scheduling.Entity{}
	for rows.Next() {
		var (
			e          scheduling.Entity
			entityType string
			source     string
			params     []byte
		)
		if err := rows.Scan(
			&e.Code, &e.Name, &entityType, &e.IntegrationID, &source, &e.ActiveErp,
			&e.CanSchedule, &e.Version, &params, &e.SpecialityCode, &e.SpecialityType,
			&e.InsuranceCode, &e.InsurancePlanCode,
		); err != nil {
			return nil, err
		}
		e.EntityType = scheduling.EntityType(entityType)
		e.Source = scheduling.EntitySource(source)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &e.Params); err != nil {
				return nil, fmt.Errorf("decode params for %s: %w", e.Code, err)
			}
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return entities, nil
}
