package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-server/internal/models"
	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// UserHandler handles user-related requests (typically admin operations).
type UserHandler struct {
	users *services.UserService
	log   *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users *services.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

// CreateUserRequest represents the request body for creating a user by an admin.
type CreateUserRequest struct {
	FirstName   string      `json:"firstName" binding:"required"`
	LastName    string      `json:"lastName" binding:"required"`
	Email       string      `json:"email" binding:"required,email"`
	Password    string      `json:"password" binding:"required,min=8"`
	PhoneNumber string      `json:"phoneNumber"`
	Role        models.Role `json:"role" binding:"required,oneof=patient staff admin"`
}

// CreateUser handles creating a new user (admin).
func (h *UserHandler) CreateUser(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req CreateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(c.Request.Context(), who, services.CreateUserInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Created(c, "User created successfully", user.Sanitize())
}

// GetUsers handles fetching all users (admin), optionally by ?role=.
func (h *UserHandler) GetUsers(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	role := models.Role(c.Query("role"))
	if role != "" && !role.IsValid() {
		utils.BadRequest(c, "Invalid role filter")
		return
	}

	users, err := h.users.List(c.Request.Context(), who, role)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Users fetched successfully", sanitizeAll(users))
}

// GetProviders lists the active staff and admins that appointments can be booked with.
func (h *UserHandler) GetProviders(c *gin.Context) {
	providers, err := h.users.Providers(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "Providers fetched successfully", sanitizeAll(providers))
}

// GetUserByID handles fetching a single user.
func (h *UserHandler) GetUserByID(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	user, err := h.users.Get(c.Request.Context(), who, id)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "User fetched successfully", user.Sanitize())
}

// UpdateUserRequest represents the request body for updating a user by an admin.
type UpdateUserRequest struct {
	FirstName   *string      `json:"firstName"`
	LastName    *string      `json:"lastName"`
	Email       *string      `json:"email" binding:"omitempty,email"`
	PhoneNumber *string      `json:"phoneNumber"`
	Role        *models.Role `json:"role" binding:"omitempty,oneof=patient staff admin"`
	IsActive    *bool        `json:"isActive"`
	Password    *string      `json:"password" binding:"omitempty,min=8"`
}

// UpdateUser handles updating a user's details (admin).
func (h *UserHandler) UpdateUser(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(c.Request.Context(), who, id, services.UserUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
		IsActive:    req.IsActive,
		Password:    req.Password,
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "User updated successfully", user.Sanitize())
}

// DeleteUser deactivates a user. Records are kept so appointment and
// message history stays intact.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.users.Deactivate(c.Request.Context(), who, id); err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	utils.Success(c, "User deactivated successfully", nil)
}
