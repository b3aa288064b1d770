package api

import (
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/notification"
)

func listNotificationsHandler(svc *notification.Service) http.HandlerFunc {
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

		items, err := svc.List(r.Context(), userID, limit)
		if err != nil {
			handleError(w, err)
			return
		}
		unread, err := svc.UnreadCount(r.Context(), userID)
		if err != nil {
			handleError(w, err)
			return
		}

		if items == nil {
			items = []notification.Notification{}
		}
		writeJSON(w, http.StatusOK, NotificationListResponse{Notifications: items, UnreadCount: unread})
	}
}

func markNotificationReadHandler(svc *notification.Service) http.HandlerFunc {
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

		n, err := svc.MarkRead(r.Context(), userID, id)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func markAllNotificationsReadHandler(svc *notification.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			handleError(w, err)
			return
		}

		changed, err := svc.MarkAllRead(r.Context(), userID)
		if err != nil {
			handleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ReadAllResponse{Updated: changed})
	}
}

func deleteNotificationHandler(svc *notification.Service) http.HandlerFunc {
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
