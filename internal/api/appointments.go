package api

import (
	"net/http"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleError(w, err)
			return
		}

		patientID, err := parseUUID("patient_id", req.PatientID)
		if err != nil {
			handleError(w, err)
			return
		}
		doctorID, err := parseUUID("doctor_id", req.DoctorID)
		if err != nil {
			handleError(w, err)
			return
		}

		var date time.Time
		if req.Date != "" {
			if date, err = slot.ParseDate(req.Date); err != nil {
				handleError(w, err)
				return
			}
		}
		var at slot.TimeOfDay
		if req.Time != "" {
			if at, err = slot.ParseTimeOfDay(req.Time); err != nil {
				handleError(w, err)
				return
			}
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			Date:      date,
			Time:      at,
			Treatment: req.Treatment,
			Tooth:     req.Tooth,
			Notes:     req.Notes,
		})
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves the day calendar. All filters are optional.
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.Filter

		if raw := q.Get("date"); raw != "" {
			d, err := slot.ParseDate(raw)
			if err != nil {
				handleError(w, err)
				return
			}
			f.Date = &d
		}
		if raw := q.Get("doctor_id"); raw != "" {
			id, err := parseUUID("doctor_id", raw)
			if err != nil {
				handleError(w, err)
				return
			}
			f.DoctorID = &id
		}
		if raw := q.Get("status"); raw != "" {
			st := appointment.AppointmentStatus(raw)
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+raw)
				return
			}
			f.Status = &st
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		var req UpdateStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleError(w, err)
			return
		}

		appt, err := svc.SetStatus(r.Context(), id, appointment.AppointmentStatus(req.Status))
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		var req RescheduleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleError(w, err)
			return
		}
		date, err := slot.ParseDate(req.Date)
		if err != nil {
			handleError(w, err)
			return
		}
		at, err := slot.ParseTimeOfDay(req.Time)
		if err != nil {
			handleError(w, err)
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, date, at)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func slotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		doctorID, err := parseUUID("doctor_id", q.Get("doctor_id"))
		if err != nil {
			handleError(w, err)
			return
		}
		date, err := slot.ParseDate(q.Get("date"))
		if err != nil {
			handleError(w, err)
			return
		}

		avail, err := svc.Availability(r.Context(), doctorID, date)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := SlotsResponse{
			DoctorID: doctorID,
			Date:     slot.FormatDate(date),
			Slots:    make([]SlotResponse, 0, len(avail)),
		}
		for _, sa := range avail {
			resp.Slots = append(resp.Slots, SlotResponse{
				Time:          sa.Time.String(),
				Occupied:      sa.Occupied,
				AppointmentID: sa.AppointmentID,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
