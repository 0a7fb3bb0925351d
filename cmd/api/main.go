package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/opencollect/tcgstore/internal/config"
	"github.com/opencollect/tcgstore/internal/database"
	"github.com/opencollect/tcgstore/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	mux := http.NewServeMux()

	mux.HandleFunc("/users", handleUsers(db))
	mux.HandleFunc("/cards", handleCards(db))
	mux.HandleFunc("/cards/", handleCardByID(db))
	mux.HandleFunc("/cart", handleCart(db))
	mux.HandleFunc("/cart/count", handleCartCount(db))
	mux.HandleFunc("/cart/items", handleUpdateItem(db))
	mux.HandleFunc("/cart/add", handleAddItem(db))
	mux.HandleFunc("/checkout", handleCheckout(db))
	mux.HandleFunc("/orders", handleOrders(db))
	mux.HandleFunc("/orders/", handleOrderByID(db))
	mux.HandleFunc("/addresses", handleAddresses(db))
	mux.HandleFunc("/addresses/", handleAddressByID(db))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// currentUser reads the authenticated user installed by the upstream auth
// layer. A missing or malformed header means the caller is unauthenticated.
func currentUser(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func handleUsers(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodPost:
			var req struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			user, err := store.CreateUser(ctx, db, req.Email, req.Name)
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, user)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleCards(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		switch r.Method {
		case http.MethodPost:
			var req struct {
				Name        string  `json:"name"`
				Description string  `json:"description"`
				Price       float64 `json:"price"`
				Stock       int     `json:"stock"`
				Category    string  `json:"category"`
				Condition   string  `json:"condition"`
				Edition     string  `json:"edition"`
				Rarity      string  `json:"rarity"`
				ImageURL    string  `json:"image_url"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			card, err := store.CreateCard(ctx, db, store.CreateCardRequest{
				Name:        req.Name,
				Description: req.Description,
				Price:       decimal.NewFromFloat(req.Price),
				Stock:       req.Stock,
				Category:    req.Category,
				Condition:   req.Condition,
				Edition:     req.Edition,
				Rarity:      req.Rarity,
				ImageURL:    req.ImageURL,
			})
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, card)

		case http.MethodGet:
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			if page < 1 {
				page = 1
			}
			pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
			if pageSize < 1 || pageSize > 100 {
				pageSize = 20
			}

			result, err := store.ListCards(ctx, db, page, pageSize)
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, result)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleCardByID(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		idStr := r.URL.Path[len("/cards/"):]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid card ID")
			return
		}

		card, err := store.GetCard(ctx, db, id)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, card)
	}
}

func handleCart(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		summary, err := store.GetCartSummary(ctx, db, userID)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, summary)
	}
}

func handleCartCount(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		// Unauthenticated callers and users without an open cart both
		// see zero, never an error.
		userID, ok := currentUser(r)
		if !ok {
			respondJSON(w, http.StatusOK, map[string]int{"count": 0})
			return
		}

		count, err := store.CartItemCount(ctx, db, userID)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]int{"count": count})
	}
}

func handleUpdateItem(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req struct {
			CardID int64  `json:"card_id"`
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.CardID == 0 || req.Action == "" {
			respondError(w, http.StatusBadRequest, "card_id and action are required")
			return
		}

		action, err := store.ParseCartAction(req.Action)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		if err := store.UpdateItemQuantity(ctx, db, userID, req.CardID, action); err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"message": "Item updated"})
	}
}

func handleAddItem(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req struct {
			CardID   int64 `json:"card_id"`
			Quantity int   `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.CardID == 0 {
			respondError(w, http.StatusBadRequest, "card_id is required")
			return
		}

		if err := store.AddQuantity(ctx, db, userID, req.CardID, req.Quantity); err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"message": "Item added to cart"})
	}
}

func handleCheckout(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req struct {
			AddressID     int64  `json:"address_id"`
			PaymentMethod string `json:"payment_method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.AddressID == 0 {
			respondError(w, http.StatusBadRequest, "address_id is required")
			return
		}

		order, err := store.PlaceOrder(ctx, db, store.PlaceOrderRequest{
			UserID:        userID,
			AddressID:     req.AddressID,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusCreated, order)
	}
}

func handleOrders(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 100 {
			limit = 20
		}
		cursor := r.URL.Query().Get("cursor")

		result, err := store.ListOrdersCursor(ctx, db, userID, cursor, limit)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, result)
	}
}

func handleOrderByID(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		idStr := r.URL.Path[len("/orders/"):]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid order ID")
			return
		}

		order, err := store.GetOrder(ctx, db, userID, id)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, order)
	}
}

func handleAddresses(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		switch r.Method {
		case http.MethodPost:
			var req addressRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			address, err := store.CreateAddress(ctx, db, userID, req.input())
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusCreated, address)

		case http.MethodGet:
			addresses, err := store.ListAddresses(ctx, db, userID)
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, addresses)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleAddressByID(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, ok := currentUser(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		idStr := r.URL.Path[len("/addresses/"):]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid address ID")
			return
		}

		switch r.Method {
		case http.MethodGet:
			address, err := store.GetUserAddress(ctx, db, userID, id)
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, address)

		case http.MethodPut:
			var req addressRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}

			address, err := store.UpdateAddress(ctx, db, userID, id, req.input())
			if err != nil {
				respondDomainError(w, err)
				return
			}

			respondJSON(w, http.StatusOK, address)

		default:
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

type addressRequest struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Complement string `json:"complement"`
}

func (r addressRequest) input() store.AddressInput {
	return store.AddressInput{
		Street:     r.Street,
		City:       r.City,
		State:      r.State,
		PostalCode: r.PostalCode,
		Complement: r.Complement,
	}
}

// respondDomainError maps domain errors onto statuses and keeps unexpected
// failures behind a generic message.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrCardNotFound),
		errors.Is(err, database.ErrCartNotFound),
		errors.Is(err, database.ErrAddressNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrInvalidInput),
		errors.Is(err, database.ErrInsufficientStock):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrStockConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Unexpected error: %v", err)
		respondError(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
