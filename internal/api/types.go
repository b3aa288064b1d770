package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/mailbox"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type BookAppointmentRequest struct {
	PatientID string  `json:"patient_id"`
	DoctorID  string  `json:"doctor_id"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Treatment string  `json:"treatment"`
	Tooth     *string `json:"tooth,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Treatment string    `json:"treatment"`
	Tooth     *string   `json:"tooth,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      slot.FormatDate(a.Date),
		Time:      a.Time.String(),
		Treatment: a.Treatment,
		Tooth:     a.Tooth,
		Notes:     a.Notes,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type SlotResponse struct {
	Time          string     `json:"time"`
	Occupied      bool       `json:"occupied"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	Date     string         `json:"date"`
	Slots    []SlotResponse `json:"slots"`
}

type NotificationListResponse struct {
	Notifications []notification.Notification `json:"notifications"`
	UnreadCount   int                         `json:"unread_count"`
}

type ReadAllResponse struct {
	Updated int `json:"updated"`
}

type SendMessageRequest struct {
	ToUserID  string  `json:"to_user_id"`
	PatientID *string `json:"patient_id,omitempty"`
	Subject   string  `json:"subject"`
	Body      string  `json:"body"`
}

type MessageListResponse struct {
	Messages    []mailbox.Message `json:"messages"`
	UnreadCount int               `json:"unread_count"`
}

// ReminderJobResponse keeps the batch trigger's wire contract.
type ReminderJobResponse struct {
	Success       bool   `json:"success"`
	RemindersSent int    `json:"reminders_sent"`
	Error         string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
