package shadow

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

var (
	errAppointmentNotFound = errors.New("shadow: appointment not found")
	errPatientNotFound     = errors.New("shadow: patient not found")
	errSlotNotFound        = errors.New("shadow: slot not found")
	errPatientExists       = errors.New("shadow: patient already exists")
)

type appointmentRecord struct {
	appointment scheduling.RawAppointment
	slot        scheduling.Appointment
}

type memoryStore struct {
	mu sync.RWMutex

	slots            map[string]scheduling.Appointment
	lastSync         time.Time
	appointmentsByID map[string]appointmentRecord
	patientsByCode   map[string]scheduling.Patient
	patientCodeByCpf map[string][]string
	entities         map[scheduling.EntityType][]scheduling.Entity
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		slots:            make(map[string]scheduling.Appointment),
		appointmentsByID: make(map[string]appointmentRecord),
		patientsByCode:   make(map[string]scheduling.Patient),
		patientCodeByCpf: make(map[string][]string),
		entities:         make(map[scheduling.EntityType][]scheduling.Entity),
	}
}

// replaceSlots swaps the free slot set, dropping slots that overlap an active
// booking.
func (s *memoryStore) replaceSlots(asOf time.Time, slots []scheduling.Appointment) {
	slotMap := make(map[string]scheduling.Appointment, len(slots))
	for _, slot := range slots {
		if strings.TrimSpace(slot.AppointmentCode) == "" {
			slot.AppointmentCode = uuid.NewString()
		}
		slotMap[slot.AppointmentCode] = slot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = slotMap
	s.lastSync = asOf
	s.removeConflictingSlotsLocked()
}

func (s *memoryStore) addSlots(slots []scheduling.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range slots {
		if strings.TrimSpace(slot.AppointmentCode) == "" {
			slot.AppointmentCode = uuid.NewString()
		}
		s.slots[slot.AppointmentCode] = slot
	}
	s.removeConflictingSlotsLocked()
}

func (s *memoryStore) removeConflictingSlotsLocked() {
	for id, slot := range s.slots {
		for _, rec := range s.appointmentsByID {
			if !rec.appointment.Status.Active() {
				continue
			}
			if rec.appointment.EntityCodes[scheduling.EntityDoctor] != slot.DoctorCode() {
				continue
			}
			if overlaps(slotBounds(slot), rawBounds(rec.appointment)) {
				delete(s.slots, id)
				break
			}
		}
	}
}

func (s *memoryStore) listSlots(start, end time.Time) []scheduling.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scheduling.Appointment, 0, len(s.slots))
	for _, slot := range s.slots {
		if !start.IsZero() && slot.AppointmentDate.Before(start) {
			continue
		}
		if !end.IsZero() && slot.AppointmentDate.After(end) {
			continue
		}
		slot.Entities = slot.Entities.Clone()
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AppointmentDate.Before(out[j].AppointmentDate)
	})
	return out
}

func (s *memoryStore) lastSyncAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

func (s *memoryStore) setEntities(entityType scheduling.EntityType, entities []scheduling.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityType] = append([]scheduling.Entity(nil), entities...)
}

func (s *memoryStore) listEntities(entityType scheduling.EntityType) []scheduling.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]scheduling.Entity{}, s.entities[entityType]...)
}

func (s *memoryStore) createPatient(patient scheduling.Patient) (*scheduling.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cpf := normalizeCpf(patient.Cpf); cpf != "" && len(s.patientCodeByCpf[cpf]) > 0 {
		return nil, errPatientExists
	}
	if strings.TrimSpace(patient.Code) == "" {
		patient.Code = uuid.NewString()
	}
	if _, ok := s.patientsByCode[patient.Code]; ok {
		return nil, errPatientExists
	}
	s.putPatientLocked(patient)
	cpy := patient
	return &cpy, nil
}

func (s *memoryStore) updatePatient(code string, patient scheduling.Patient) (*scheduling.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.patientsByCode[code]
	if !ok {
		return nil, errPatientNotFound
	}
	if cpf := normalizeCpf(existing.Cpf); cpf != "" {
		s.patientCodeByCpf[cpf] = removeString(s.patientCodeByCpf[cpf], code)
	}
	patient.Code = code
	s.putPatientLocked(patient)
	cpy := patient
	return &cpy, nil
}

func (s *memoryStore) putPatientLocked(patient scheduling.Patient) {
	s.patientsByCode[patient.Code] = patient
	if cpf := normalizeCpf(patient.Cpf); cpf != "" {
		s.patientCodeByCpf[cpf] = appendUnique(s.patientCodeByCpf[cpf], patient.Code)
	}
}

func (s *memoryStore) getPatient(code string) (*scheduling.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patient, ok := s.patientsByCode[code]
	if !ok {
		return nil, errPatientNotFound
	}
	cpy := patient
	return &cpy, nil
}

func (s *memoryStore) patientsByCpf(cpf string) []scheduling.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := s.patientCodeByCpf[normalizeCpf(cpf)]
	out := make([]scheduling.Patient, 0, len(codes))
	for _, code := range codes {
		if p, ok := s.patientsByCode[code]; ok {
			out = append(out, p)
		}
	}
	return out
}

// book claims a slot for the patient. The slot is found by id, else by date
// and doctor.
func (s *memoryStore) book(slotID string, date time.Time, doctorCode string, appt scheduling.RawAppointment) (*scheduling.RawAppointment, scheduling.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookLocked(slotID, date, doctorCode, appt)
}

func (s *memoryStore) bookLocked(slotID string, date time.Time, doctorCode string, appt scheduling.RawAppointment) (*scheduling.RawAppointment, scheduling.Appointment, error) {
	slot, ok := s.slots[slotID]
	if !ok {
		slot, ok = s.findSlotLocked(date, doctorCode)
	}
	if !ok {
		return nil, scheduling.Appointment{}, errSlotNotFound
	}
	delete(s.slots, slot.AppointmentCode)

	appt.AppointmentCode = uuid.NewString()
	appt.AppointmentDate = slot.AppointmentDate
	if appt.Duration <= 0 {
		appt.Duration = slot.Duration
	}
	if appt.EntityCodes == nil {
		appt.EntityCodes = scheduling.CorrelationFilterByKey{}
	}
	for t, code := range slot.Entities.Codes() {
		if _, set := appt.EntityCodes[t]; !set {
			appt.EntityCodes[t] = code
		}
	}
	s.appointmentsByID[appt.AppointmentCode] = appointmentRecord{appointment: appt, slot: slot}
	cpy := appt
	return &cpy, slot, nil
}

func (s *memoryStore) findSlotLocked(date time.Time, doctorCode string) (scheduling.Appointment, bool) {
	for _, slot := range s.slots {
		if !slot.AppointmentDate.Equal(date) {
			continue
		}
		if doctorCode != "" && slot.DoctorCode() != doctorCode {
			continue
		}
		return slot, true
	}
	return scheduling.Appointment{}, false
}

func (s *memoryStore) getAppointment(code string) (*scheduling.RawAppointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.appointmentsByID[code]
	if !ok {
		return nil, errAppointmentNotFound
	}
	cpy := rec.appointment
	return &cpy, nil
}

// setStatus moves an appointment to status. Cancelling returns the slot to
// the free set. It reports false when the transition is not allowed.
func (s *memoryStore) setStatus(code string, status scheduling.AppointmentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(code, status)
}

func (s *memoryStore) setStatusLocked(code string, status scheduling.AppointmentStatus) (bool, error) {
	rec, ok := s.appointmentsByID[code]
	if !ok {
		return false, errAppointmentNotFound
	}
	if rec.appointment.Status == status {
		return true, nil
	}
	if !rec.appointment.Status.Active() {
		return false, nil
	}
	rec.appointment.Status = status
	s.appointmentsByID[code] = rec

	if status == scheduling.StatusCancelled && rec.slot.AppointmentCode != "" {
		s.slots[rec.slot.AppointmentCode] = rec.slot
	}
	return true, nil
}

// reschedule books the new slot and cancels the old appointment under one lock.
func (s *memoryStore) reschedule(oldCode, slotID string, date time.Time, doctorCode string, appt scheduling.RawAppointment) (*scheduling.RawAppointment, scheduling.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.appointmentsByID[oldCode]
	if !ok || old.appointment.PatientCode != appt.PatientCode {
		return nil, scheduling.Appointment{}, errAppointmentNotFound
	}
	created, slot, err := s.bookLocked(slotID, date, doctorCode, appt)
	if err != nil {
		return nil, scheduling.Appointment{}, err
	}
	if _, err := s.setStatusLocked(oldCode, scheduling.StatusCancelled); err != nil {
		return nil, scheduling.Appointment{}, err
	}
	return created, slot, nil
}

func (s *memoryStore) patientAppointments(patientCode string, start, end *time.Time) []scheduling.RawAppointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scheduling.RawAppointment, 0)
	for _, rec := range s.appointmentsByID {
		appt := rec.appointment
		if appt.PatientCode != patientCode {
			continue
		}
		if start != nil && appt.AppointmentDate.Before(*start) {
			continue
		}
		if end != nil && appt.AppointmentDate.After(*end) {
			continue
		}
		appt.EntityCodes = cloneCodes(appt.EntityCodes)
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AppointmentDate.Before(out[j].AppointmentDate)
	})
	return out
}

type bounds struct{ start, end time.Time }

func slotBounds(a scheduling.Appointment) bounds {
	return bounds{a.AppointmentDate, a.AppointmentDate.Add(time.Duration(a.Duration) * time.Minute)}
}

func rawBounds(a scheduling.RawAppointment) bounds {
	return bounds{a.AppointmentDate, a.AppointmentDate.Add(time.Duration(a.Duration) * time.Minute)}
}

func overlaps(a, b bounds) bool {
	if a.start.IsZero() || b.start.IsZero() {
		return false
	}
	if !a.end.After(a.start) || !b.end.After(b.start) {
		return a.start.Equal(b.start)
	}
	return a.start.Before(b.end) && b.start.Before(a.end)
}

func cloneCodes(in scheduling.CorrelationFilterByKey) scheduling.CorrelationFilterByKey {
	out := make(scheduling.CorrelationFilterByKey, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeCpf(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeString(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
