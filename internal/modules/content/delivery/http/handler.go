package handler

import (
	"fmt"
	"net/http"

	contentDto "anoa.com/threadforum/internal/modules/content/dto"
	content "anoa.com/threadforum/internal/modules/content/service"
	"anoa.com/threadforum/pkg/apperror"
	"anoa.com/threadforum/pkg/response"
	"github.com/gin-gonic/gin"
)

type ContentHandler struct {
	service content.Service
	users   content.UserDirectory
}

func NewContentHandler(service content.Service, users content.UserDirectory) *ContentHandler {
	return &ContentHandler{service: service, users: users}
}

func (h *ContentHandler) ListForums(c *gin.Context) {
	forums := h.service.ListForums(c.Request.Context())

	resp := make([]contentDto.ForumSummary, 0, len(forums))
	for _, f := range forums {
		resp = append(resp, contentDto.NewForumSummary(f))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (h *ContentHandler) GetForum(c *gin.Context) {
	forum, err := h.service.GetForum(c.Request.Context(), c.Param("forum_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentDto.NewForumResponse(forum))
}

func (h *ContentHandler) GetThread(c *gin.Context) {
	thread, err := h.service.GetThread(c.Request.Context(), c.Param("thread_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentDto.RenderThread(thread))
}

func (h *ContentHandler) GetMessage(c *gin.Context) {
	msg, err := h.service.GetMessage(c.Request.Context(), c.Param("message_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentDto.RenderMessage(msg))
}

func (h *ContentHandler) CreateForum(c *gin.Context) {
	var req contentDto.CreateForumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, err)
		return
	}

	forum, err := h.service.CreateForum(c.Request.Context(), req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, forum)
}

func (h *ContentHandler) CreateThread(c *gin.Context) {
	var req contentDto.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, err)
		return
	}

	thread, err := h.service.CreateThread(c.Request.Context(), c.Param("forum_id"), req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (h *ContentHandler) UpdateThread(c *gin.Context) {
	var req contentDto.UpdateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, err)
		return
	}

	thread, err := h.service.EditThread(c.Request.Context(), c.Param("thread_id"), req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentDto.RenderThread(thread))
}

func (h *ContentHandler) DeleteThread(c *gin.Context) {
	if _, err := h.service.DeleteThread(c.Request.Context(), c.Param("thread_id")); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "thread deleted successfully"})
}

func (h *ContentHandler) CreateMessage(c *gin.Context) {
	var req contentDto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, err)
		return
	}

	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	msg, err := h.service.CreateMessage(c.Request.Context(), c.Param("thread_id"), userID, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ContentHandler) CreateReply(c *gin.Context) {
	var req contentDto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, err)
		return
	}

	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	msg, err := h.service.CreateReply(c.Request.Context(), c.Param("message_id"), userID, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ContentHandler) EditMessage(c *gin.Context) {
	var req contentDto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, err)
		return
	}

	messageID := c.Param("message_id")
	if err := h.authorizeMessageOwner(c, messageID); err != nil {
		response.ResponseError(c, err)
		return
	}

	msg, err := h.service.EditMessage(c.Request.Context(), messageID, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentDto.RenderMessage(msg))
}

func (h *ContentHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	if err := h.authorizeMessageOwner(c, messageID); err != nil {
		response.ResponseError(c, err)
		return
	}

	if _, err := h.service.DeleteMessage(c.Request.Context(), messageID); err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted successfully"})
}

func (h *ContentHandler) LikeMessage(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	msg, err := h.service.LikeMessage(c.Request.Context(), c.Param("message_id"), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentDto.RenderMessage(msg))
}

// authorizeMessageOwner allows the message's author and admins.
func (h *ContentHandler) authorizeMessageOwner(c *gin.Context, messageID string) error {
	userID, err := response.GetUserID(c)
	if err != nil {
		return err
	}

	msg, err := h.service.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		return err
	}
	if msg.Author.ID == userID {
		return nil
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		return fmt.Errorf("current user not found: %w", apperror.ErrUnauthorized)
	}
	if !user.Admin {
		return fmt.Errorf("you can only change your own messages: %w", apperror.ErrForbidden)
	}
	return nil
}
