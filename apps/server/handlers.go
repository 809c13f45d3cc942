package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mahaj/placement-chat/pkg/auth"
	"github.com/mahaj/placement-chat/pkg/config"
	"github.com/mahaj/placement-chat/pkg/model"
	"github.com/mahaj/placement-chat/pkg/presence"
	"github.com/mahaj/placement-chat/pkg/relay"
	"github.com/mahaj/placement-chat/pkg/room"
	"github.com/mahaj/placement-chat/pkg/store"
	"github.com/mahaj/placement-chat/pkg/upload"
)

type server struct {
	cfg      config.Config
	log      *slog.Logger
	messages store.Store
	router   *room.Router
	fanout   relay.Fanout
	presence *presence.Tracker
	uploads  *upload.Service
	tokens   *auth.Tokens
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.Handle("GET /chat/messages/{conversationId}", s.requireAuth(http.HandlerFunc(s.handleHistory)))
	mux.Handle("POST /chat/upload", s.requireAuth(http.HandlerFunc(s.handleUpload)))
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploads.Dir()))))

	mux.Handle("GET /staff/conversations", s.requireStaff(http.HandlerFunc(s.handleConversations)))
	mux.Handle("GET /staff/conversations/{conversationId}/messages", s.requireStaff(http.HandlerFunc(s.handleStaffHistory)))
	mux.Handle("POST /staff/conversations/{conversationId}/read", s.requireStaff(http.HandlerFunc(s.handleMarkRead)))
	mux.Handle("GET /staff/conversations/{conversationId}/presence", s.requireStaff(http.HandlerFunc(s.handlePresence)))

	mux.HandleFunc("GET /ws", s.serveWS)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(token, "Bearer ")
}

func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}
		claims, err := s.tokens.Validate(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), auth.ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) requireStaff(next http.Handler) http.Handler {
	return s.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := r.Context().Value(auth.ClaimsKey).(*auth.Claims)
		if claims.Role != model.RoleStaff {
			http.Error(w, "Staff access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type loginRequest struct {
	Identity       string           `json:"identity"`
	Role           model.SenderRole `json:"role"`
	ConversationID string           `json:"conversationId"`
	StaffKey       string           `json:"staffKey"`
}

type loginResponse struct {
	Token          string `json:"token"`
	ConversationID string `json:"conversationId,omitempty"`
}

// handleLogin issues conversation-scoped tokens. A fresh user gets a fresh
// conversation id; presenting a held id resumes that conversation, the
// unguessable uuid itself being the resumption credential. Staff tokens
// require the shared staff key and are not bound to a conversation.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Identity == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}

	switch req.Role {
	case model.RoleStaff:
		if s.cfg.StaffKey == "" || req.StaffKey != s.cfg.StaffKey {
			http.Error(w, "Invalid staff key", http.StatusForbidden)
			return
		}
		req.ConversationID = ""
	case model.RoleUser:
		if req.ConversationID == "" {
			req.ConversationID = uuid.NewString()
		}
	default:
		http.Error(w, "Unknown role", http.StatusBadRequest)
		return
	}

	token, err := s.tokens.Generate(req.Identity, req.Role, req.ConversationID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ConversationID: req.ConversationID})
}

type historyResponse struct {
	Success  bool                  `json:"success"`
	Messages []model.StoredMessage `json:"messages"`
}

// handleHistory is the catch-up endpoint used for the initial history load
// and page-refresh recovery. A user asking for a conversation that is not
// theirs gets an empty list, never an error, so conversation ids cannot be
// probed for existence.
func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(auth.ClaimsKey).(*auth.Claims)
	conversationID := r.PathValue("conversationId")

	if claims.Role != model.RoleStaff && conversationID != claims.ConversationID {
		writeJSON(w, http.StatusOK, historyResponse{Success: true, Messages: []model.StoredMessage{}})
		return
	}

	messages, err := s.messages.ListByConversation(r.Context(), conversationID)
	if err != nil {
		s.log.Error("load history", "conversation", conversationID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false, "message": "Failed to load messages",
		})
		return
	}
	if messages == nil {
		messages = []model.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Messages: messages})
}

// handleConversations backs the staff console list: every conversation with
// its latest message and unread count.
func (s *server) handleConversations(w http.ResponseWriter, r *http.Request) {
	digests, err := s.messages.Conversations(r.Context())
	if err != nil {
		s.log.Error("list conversations", "err", err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	digests = lo.Map(digests, func(d model.ConversationDigest, _ int) model.ConversationDigest {
		if n, err := s.messages.CountUnread(r.Context(), d.ConversationID); err == nil {
			d.UnreadCount = n
		}
		return d
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversations": digests})
}

// handleStaffHistory returns the full history for the staff console and
// marks the user's messages read as a side effect of opening the
// conversation.
func (s *server) handleStaffHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")

	messages, err := s.messages.ListByConversation(r.Context(), conversationID)
	if err != nil {
		s.log.Error("load staff history", "conversation", conversationID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false, "message": "Failed to load messages",
		})
		return
	}
	if err := s.messages.MarkUserMessagesRead(r.Context(), conversationID); err != nil {
		s.log.Error("mark read", "conversation", conversationID, "err", err)
	}
	if messages == nil {
		messages = []model.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Messages: messages})
}

func (s *server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if err := s.messages.MarkUserMessagesRead(r.Context(), conversationID); err != nil {
		s.log.Error("mark read", "conversation", conversationID, "err", err)
		http.Error(w, "Failed to mark messages read", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handlePresence(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	members, err := s.presence.Members(r.Context(), conversationID)
	if err != nil {
		s.log.Error("fetch presence", "conversation", conversationID, "err", err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "members": members})
}

// handleUpload accepts one attachment and returns the reference the client
// embeds in a later chat-message envelope.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(auth.ClaimsKey).(*auth.Claims)

	if err := r.ParseMultipartForm(s.cfg.UploadMaxBytes); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	conversationID := r.FormValue("conversationId")
	if claims.Role != model.RoleStaff && conversationID != claims.ConversationID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	attachment, err := s.uploads.Save(header.Filename, file)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	case errors.Is(err, upload.ErrUnsupportedType):
		http.Error(w, "Unsupported file type", http.StatusUnsupportedMediaType)
		return
	case err != nil:
		s.log.Error("store upload", "err", err)
		http.Error(w, "Upload failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "attachment": attachment})
}
