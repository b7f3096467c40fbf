package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/studyroom-signaling/internal/auth"
	"github.com/mossy-p/studyroom-signaling/internal/rooms"
)

// LoginRequest is the login request body.
type LoginRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName,omitempty"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Login issues a JWT and records the user's display name for later
// resolution in call invitations and chat.
// For demo purposes any username/password combination is accepted.
func Login(jwtSecret string, store rooms.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		userID := req.Username
		name := req.DisplayName
		if name == "" {
			name = req.Username
		}

		token, err := auth.IssueToken(jwtSecret, userID, name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		if err := store.SetUserName(c.Request.Context(), userID, name); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store profile"})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{Token: token, UserID: userID})
	}
}
