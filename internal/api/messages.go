package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/mailbox"
)

func listMessagesHandler(svc *mailbox.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			handleError(w, err)
			return
		}
		limit, err := queryLimit(r)
		if err != nil {
			handleError(w, err)
			return
		}

		msgs, err := svc.List(r.Context(), userID, mailbox.Box(r.URL.Query().Get("box")), limit)
		if err != nil {
			handleError(w, err)
			return
		}
		unread, err := svc.UnreadCount(r.Context(), userID)
		if err != nil {
			handleError(w, err)
			return
		}

		if msgs == nil {
			msgs = []mailbox.Message{}
		}
		writeJSON(w, http.StatusOK, MessageListResponse{Messages: msgs, UnreadCount: unread})
	}
}

func sendMessageHandler(svc *mailbox.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		var req SendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleError(w, err)
			return
		}
		to, err := parseUUID("to_user_id", req.ToUserID)
		if err != nil {
			handleError(w, err)
			return
		}
		var patientID *uuid.UUID
		if req.PatientID != nil && *req.PatientID != "" {
			id, err := parseUUID("patient_id", *req.PatientID)
			if err != nil {
				handleError(w, err)
				return
			}
			patientID = &id
		}

		m, err := svc.Send(r.Context(), mailbox.SendRequest{
			FromUserID: userID,
			ToUserID:   to,
			PatientID:  patientID,
			Subject:    req.Subject,
			Body:       req.Body,
		})
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func markMessageReadHandler(svc *mailbox.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			handleError(w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		m, err := svc.MarkRead(r.Context(), userID, id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func deleteMessageHandler(svc *mailbox.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			handleError(w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		if err := svc.Delete(r.Context(), userID, id); err != nil {
			handleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
