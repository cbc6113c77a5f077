package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/wall/internal/repository"
	"github.com/d60-Lab/wall/internal/service"
	"github.com/d60-Lab/wall/pkg/response"
)

type createPostRequest struct {
	Author      string  `json:"author" binding:"required"`
	Content     string  `json:"content" binding:"required"`
	PhotoURL    *string `json:"photo_url"`
	ClientToken *string `json:"client_token"`
}

// ListPosts 最近的帖子
// @Summary 查询最近帖子（按创建时间倒序）
// @Tags 帖子
// @Produce json
// @Param limit query int false "数量" default(50)
// @Success 200 {object} response.Response{data=[]model.Post}
// @Failure 500 {object} response.Response
// @Router /api/v1/posts [get]
func (h *Handler) ListPosts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.feedLimit)))
	if err != nil {
		response.BadRequest(c, "limit must be an integer")
		return
	}
	list, err := h.postService.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, list)
}

// CreatePost 发帖并返回插入的行
// @Summary 发帖
// @Tags 帖子
// @Accept json
// @Produce json
// @Param request body createPostRequest true "帖子"
// @Success 201 {object} response.Response{data=model.Post}
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	post, err := h.postService.Create(c.Request.Context(), service.CreatePostInput{
		Author:      req.Author,
		Content:     req.Content,
		PhotoURL:    req.PhotoURL,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, post)
}

// DeletePost 删除帖子
// @Summary 删除帖子
// @Tags 帖子
// @Param id path string true "帖子ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	if err := h.postService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrPostNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, nil)
}
