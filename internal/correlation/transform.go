package correlation

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Transform builds an Appointment from a provider RawAppointment by resolving
// its entity codes.
func (r *Resolver) Transform(ctx context.Context, integration scheduling.Integration, raw scheduling.RawAppointment) (scheduling.Appointment, error) {
	entities, err := r.Resolve(ctx, integration, raw.EntityCodes, Options{})
	if err != nil {
		return scheduling.Appointment{}, err
	}
	status := raw.Status
	if status == "" {
		status = scheduling.StatusScheduled
	}
	return scheduling.Appointment{
		AppointmentCode: raw.AppointmentCode,
		AppointmentDate: raw.AppointmentDate,
		Duration:        raw.Duration,
		Status:          status,
		Entities:        entities,
		Guidance:        raw.Guidance,
		Price:           raw.Price,
	}, nil
}

// TransformAll transforms raws concurrently, keeping their order. Pair it with
// a BatchFinder so shared codes hit storage once.
func (r *Resolver) TransformAll(ctx context.Context, integration scheduling.Integration, raws []scheduling.RawAppointment) ([]scheduling.Appointment, error) {
	out := make([]scheduling.Appointment, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	for i := range raws {
		i := i
		g.Go(func() error {
			appt, err := r.Transform(gctx, integration, raws[i])
			if err != nil {
				return err
			}
			out[i] = appt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
