package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var errInvalidPagination = errors.New("invalid pagination params")

type pagination struct {
	Page  int64
	Limit int64
}

func (p pagination) skip() int64 {
	return (p.Page - 1) * p.Limit
}

func (p pagination) meta(total int64) gin.H {
	pages := int64(0)
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return gin.H{
		"page":       p.Page,
		"limit":      p.Limit,
		"total":      total,
		"totalPages": pages,
	}
}

func parsePaginationParams(pageStr, limitStr string) (pagination, error) {
	p := pagination{Page: 1, Limit: defaultPageLimit}

	if pageStr = strings.TrimSpace(pageStr); pageStr != "" {
		v, err := strconv.ParseInt(pageStr, 10, 64)
		if err != nil || v < 1 {
			return pagination{}, errInvalidPagination
		}
		p.Page = v
	}

	if limitStr = strings.TrimSpace(limitStr); limitStr != "" {
		v, err := strconv.ParseInt(limitStr, 10, 64)
		if err != nil || v < 1 {
			return pagination{}, errInvalidPagination
		}
		if v > maxPageLimit {
			v = maxPageLimit
		}
		p.Limit = v
	}

	return p, nil
}

func paginationFromQuery(c *gin.Context) (pagination, error) {
	return parsePaginationParams(c.Query("page"), c.Query("limit"))
}
