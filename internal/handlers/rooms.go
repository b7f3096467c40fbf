package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/rooms"
)

// CreateRoom creates a new room (requires authentication).
func CreateRoom(store rooms.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		room, err := store.CreateRoom(c.Request.Context(), req, userID.(string))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}

		c.JSON(http.StatusCreated, models.CreateRoomResponse{
			RoomID: room.RoomID,
			Code:   room.Code,
		})
	}
}

// GetRoom returns room metadata by id or code (public).
func GetRoom(store rooms.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		room, err := store.GetRoom(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}

		count, _ := store.ParticipantCount(c.Request.Context(), room.RoomID)
		c.JSON(http.StatusOK, gin.H{
			"room":             room,
			"participantCount": count,
		})
	}
}

// DeleteRoom deletes a room (requires authentication, creator only).
func DeleteRoom(store rooms.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		room, err := store.GetRoom(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
			return
		}

		if room.CreatorID != userID.(string) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
			return
		}

		if err := store.DeleteRoom(c.Request.Context(), room.RoomID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	}
}
