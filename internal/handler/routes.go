package handler

import "github.com/gin-gonic/gin"

// Handlers groups every HTTP handler the API mounts.
type Handlers struct {
	Session    *SessionHandler
	Attendance *AttendanceHandler
	Photos     *PhotoHandler
	Metrics    *MetricsHandler
}

// RegisterRoutes mounts the probes at the root and the API under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers) {
	if h.Metrics != nil {
		r.GET("/health", h.Metrics.Health)
		r.GET("/ready", h.Metrics.Ready)
		r.GET("/metrics", h.Metrics.Prometheus)
	}

	api := r.Group(prefix)

	session := api.Group("/session")
	session.POST("", h.Session.Open)
	session.GET("", h.Session.Current)
	session.POST("/close", h.Session.Close)
	session.GET("/stream", h.Session.Stream)
	session.GET("/qr.png", h.Session.QRCode)

	attendance := api.Group("/attendance")
	attendance.POST("", h.Attendance.Submit)
	attendance.GET("", h.Attendance.List)
	attendance.DELETE("", h.Attendance.Reset)
	attendance.GET("/stream", h.Attendance.Stream)
	attendance.GET("/export", h.Attendance.Export)
	attendance.POST("/reset-token", h.Attendance.IssueResetToken)

	if h.Photos != nil {
		api.GET("/photos/:token", h.Photos.Download)
	}
}
