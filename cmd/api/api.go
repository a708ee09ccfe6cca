package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tutorlink/tutorlink-server/cmd/models"
	"github.com/tutorlink/tutorlink-server/service/booking"
	"github.com/tutorlink/tutorlink-server/service/chats"
	notification "github.com/tutorlink/tutorlink-server/service/notifications"
	"github.com/tutorlink/tutorlink-server/service/schedule"
	"github.com/tutorlink/tutorlink-server/service/user"
)

type APIServer struct {
	address string
	db      *gorm.DB
	logger  *zap.Logger
}

func NewApiServer(address string, db *gorm.DB, logger *zap.Logger) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		logger:  logger,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	hub := models.NewHub()
	go hub.Run()

	notificationHandler := notification.NewNotificationHandler(s.db)
	notificationHandler.RegisterRoutes(subrouter)

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterRoutes(subrouter)

	availabilityHandler := schedule.NewAvailabilityHandler(s.db)
	availabilityHandler.RegisterRoutes(subrouter)

	bookingHandler := booking.NewBookingHandler(s.db, notificationHandler)
	bookingHandler.RegisterRoutes(subrouter)

	chatHandler := chats.NewChatHandler(s.db, hub, notificationHandler)
	chatHandler.RegisterRoutes(subrouter)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	s.logger.Info("server listening", zap.String("address", s.address))
	return http.ListenAndServe(s.address, cors(router))
}
