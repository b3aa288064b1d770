package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/reminder"
)

// runRemindersHandler is the batch trigger. It always answers with the
// {success, reminders_sent} envelope, including on failure.
func runRemindersHandler(runner reminder.Runner, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := runner.Run(r.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, reminder.ErrRunInProgress) {
				status = http.StatusConflict
			}
			log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("reminder run failed")
			writeJSON(w, status, ReminderJobResponse{Success: false, Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, ReminderJobResponse{Success: true, RemindersSent: res.Sent()})
	}
}
