package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Routes wires every endpoint onto a chi router. ws is the websocket feed
// handler; pass nil to skip the endpoint.
func (h *Handler) Routes(ws http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Get("/api/v1/orderbook/{symbol}", h.GetOrderBook)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/api/v1/orders", h.PlaceOrder)
		r.Get("/api/v1/orders", h.GetUserOrders)
		r.Delete("/api/v1/orders/{id}", h.CancelOrder)
		r.Get("/api/v1/trades", h.GetUserTrades)
	})

	if ws != nil {
		r.Handle("/ws", ws)
	}

	return r
}
