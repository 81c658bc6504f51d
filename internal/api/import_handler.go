package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"flexiID/internal/api/middleware"
	"flexiID/internal/importer"
)

const maxImportBytes = 20 << 20

// ImportHandler 处理员工表格批量导入。
type ImportHandler struct {
	importer *importer.Importer
}

func NewImportHandler(im *importer.Importer) *ImportHandler {
	return &ImportHandler{importer: im}
}

// POST /v1/employees/import
func (h *ImportHandler) ImportEmployees(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if fh.Size > maxImportBytes {
		BadRequest(c, "file too large")
		return
	}

	log := middleware.LoggerFromContext(c).With(slog.String("file", fh.Filename))

	f, err := fh.Open()
	if err != nil {
		log.Error("open import file failed", slog.Any("error", err))
		Internal(c, "failed to read file")
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	result, err := h.importer.Import(ctx, fh.Filename, f)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			log.Warn("import canceled", slog.Any("error", err))
			Internal(c, "import canceled")
		case errors.Is(err, importer.ErrInvalidCSV):
			BadRequest(c, importer.ErrInvalidCSV.Error())
		default:
			log.Info("reject import file", slog.Any("error", err))
			BadRequest(c, err.Error())
		}
		return
	}

	log.Info("employees imported",
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
	)
	c.JSON(http.StatusOK, result)
}
