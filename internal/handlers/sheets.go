package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/estatedir/internal/sheets"
	"github.com/charlesng35/estatedir/pkg/errors"
	"github.com/charlesng35/estatedir/pkg/response"
)

// RawSheetSource returns a sheet export as text.
type RawSheetSource interface {
	RawCSV(ctx context.Context, sheet sheets.Sheet, format string) (string, error)
}

// ImageSource streams images stored next to the spreadsheet or on allowed hosts.
type ImageSource interface {
	FetchImage(ctx context.Context, fileID string) (*http.Response, error)
	ProxyImage(ctx context.Context, rawURL string) (*http.Response, error)
}

const imageCacheControl = "public, max-age=86400"

// SheetsHandler proxies spreadsheet exports and images.
type SheetsHandler struct {
	source RawSheetSource
	images ImageSource
}

func NewSheetsHandler(source RawSheetSource, images ImageSource) *SheetsHandler {
	return &SheetsHandler{source: source, images: images}
}

// GET /api/sheets/:sheetType?format=csv|tq
func (h *SheetsHandler) Raw(c *gin.Context) {
	sheet, err := sheets.ParseSheet(c.Param("sheetType"))
	if err != nil {
		fail(c, err)
		return
	}

	text, err := h.source.RawCSV(requestContext(c), sheet, strings.TrimSpace(c.Query("format")))
	if err != nil {
		fail(c, err)
		return
	}

	response.CSV(c, http.StatusOK, text)
}

// GET /api/image?fileId=...
func (h *SheetsHandler) Image(c *gin.Context) {
	h.serveFile(c, c.Query("fileId"))
}

// GET /image-proxy/:fileId
func (h *SheetsHandler) ImageByPath(c *gin.Context) {
	h.serveFile(c, c.Param("fileId"))
}

// GET /api/proxy-image?url=...
func (h *SheetsHandler) ProxyImage(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	if target == "" {
		response.Error(c, errors.NewBadRequest("url is required"))
		return
	}

	resp, err := h.images.ProxyImage(requestContext(c), target)
	if err != nil {
		fail(c, err)
		return
	}
	streamImage(c, resp)
}

func (h *SheetsHandler) serveFile(c *gin.Context, fileID string) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		response.Error(c, errors.NewBadRequest("fileId is required"))
		return
	}

	resp, err := h.images.FetchImage(requestContext(c), fileID)
	if err != nil {
		fail(c, err)
		return
	}
	streamImage(c, resp)
}

func streamImage(c *gin.Context, resp *http.Response) {
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, map[string]string{
		"Cache-Control": imageCacheControl,
	})
}
