package http

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"doccrawl/internal/config"
	"doccrawl/internal/crawl"
	"doccrawl/internal/export"
	"doccrawl/internal/extract"
)

func crawlHandler(c *fiber.Ctx) error {
	var reqBody CrawlRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	cfg := c.Locals("config").(*config.Config)
	mgr := c.Locals("manager").(*crawl.Manager)

	crawlCfg := crawl.Config{
		SeedURL:    reqBody.URL,
		PathFilter: reqBody.PathFilter,
		MaxPages:   cfg.Crawler.MaxPagesDefault,
		MaxDepth:   cfg.Crawler.MaxDepthDefault,
		Mode:       extract.Mode(cfg.Crawler.ModeDefault),
	}
	if reqBody.MaxPages != nil {
		crawlCfg.MaxPages = *reqBody.MaxPages
	}
	if reqBody.MaxDepth != nil {
		crawlCfg.MaxDepth = *reqBody.MaxDepth
	}
	if reqBody.Mode != "" {
		crawlCfg.Mode = extract.Mode(reqBody.Mode)
	}

	s, err := mgr.Start(c.UserContext(), crawlCfg)
	if err != nil {
		status, code := fiber.StatusInternalServerError, "CRAWL_START_FAILED"
		switch {
		case errors.Is(err, crawl.ErrInvalidSeed):
			status, code = fiber.StatusBadRequest, "INVALID_SEED_URL"
		case errors.Is(err, extract.ErrUnknownMode):
			status, code = fiber.StatusBadRequest, "INVALID_MODE"
		case errors.Is(err, crawl.ErrInvalidConfig):
			status, code = fiber.StatusBadRequest, "INVALID_CONFIG"
		}
		return c.Status(status).JSON(ErrorResponse{
			Success: false,
			Code:    code,
			Error:   err.Error(),
		})
	}

	if lg := loggerFrom(c); lg != nil {
		cc := s.Config()
		lg.Info("crawl_started",
			"crawl_id", s.ID(),
			"url", cc.SeedURL,
			"max_pages", cc.MaxPages,
			"max_depth", cc.MaxDepth,
			"mode", string(cc.Mode),
		)
	}

	return c.Status(http.StatusOK).JSON(CrawlResponse{
		Success: true,
		ID:      s.ID(),
		URL:     c.Protocol() + "://" + c.Hostname() + "/v1/crawl/" + s.ID(),
		State:   crawl.StateRunning,
	})
}

func crawlListHandler(c *fiber.Ctx) error {
	mgr := c.Locals("manager").(*crawl.Manager)

	out := mgr.List()
	seen := make(map[string]struct{}, len(out))
	for _, snap := range out {
		seen[snap.ID] = struct{}{}
	}

	if st := storeFrom(c); st != nil {
		stored, err := st.ListSessions(c.UserContext(), c.QueryInt("limit", 100))
		if err != nil {
			return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "CRAWL_LIST_FAILED",
				Error:   err.Error(),
			})
		}
		for _, snap := range stored {
			if _, ok := seen[snap.ID]; !ok {
				out = append(out, snap)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].StartedAt.After(out[j].StartedAt)
		})
	}

	return c.JSON(CrawlListResponse{Success: true, Data: out})
}

func crawlStatusHandler(c *fiber.Ctx) error {
	snap, err := lookupSnapshot(c, c.Params("id"))
	if err != nil {
		return snapshotError(c, err)
	}

	if !c.QueryBool("content", false) {
		for i := range snap.Pages {
			snap.Pages[i].RawContent = ""
			snap.Pages[i].ExtractedContent = ""
		}
	}

	return c.JSON(CrawlStatusResponse{Success: true, Data: &snap})
}

type controlAction int

const (
	controlPause controlAction = iota
	controlResume
	controlAbort
)

func crawlControlHandler(action controlAction) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mgr := c.Locals("manager").(*crawl.Manager)
		id := c.Params("id")

		var err error
		switch action {
		case controlPause:
			err = mgr.Pause(id)
		case controlResume:
			err = mgr.Resume(id)
		case controlAbort:
			err = mgr.Abort(id)
		}

		switch {
		case errors.Is(err, crawl.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "crawl session not found",
			})
		case errors.Is(err, crawl.ErrNotRunning):
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Success: false,
				Code:    "CRAWL_NOT_RUNNING",
				Error:   err.Error(),
			})
		case err != nil:
			return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "CRAWL_CONTROL_FAILED",
				Error:   err.Error(),
			})
		}

		resp := CrawlResponse{Success: true, ID: id}
		if s, ok := mgr.Get(id); ok {
			resp.State, _ = s.State()
		}
		return c.JSON(resp)
	}
}

func crawlForgetHandler(c *fiber.Ctx) error {
	mgr := c.Locals("manager").(*crawl.Manager)
	id := c.Params("id")

	switch err := mgr.Forget(id); {
	case errors.Is(err, crawl.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "crawl session not found",
		})
	case errors.Is(err, crawl.ErrSessionRunning):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "CRAWL_RUNNING",
			Error:   err.Error(),
		})
	case err != nil:
		return err
	}
	return c.JSON(CrawlResponse{Success: true, ID: id})
}

func crawlExportHandler(c *fiber.Ctx) error {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_FORMAT",
			Error:   err.Error(),
		})
	}

	snap, err := lookupSnapshot(c, c.Params("id"))
	if err != nil {
		return snapshotError(c, err)
	}

	now := time.Now()
	body, err := export.Render(format, snap, now)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "EXPORT_FAILED",
			Error:   err.Error(),
		})
	}

	filename := export.Filename(snap.Config.SeedURL, format.Ext(), now)
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(body)
}

// lookupSnapshot prefers the live session and falls back to the store.
func lookupSnapshot(c *fiber.Ctx, id string) (crawl.Snapshot, error) {
	mgr := c.Locals("manager").(*crawl.Manager)
	if s, ok := mgr.Get(id); ok {
		return s.Snapshot(), nil
	}
	if st := storeFrom(c); st != nil {
		return st.GetSnapshot(c.UserContext(), id)
	}
	return crawl.Snapshot{}, crawl.ErrSessionNotFound
}

func snapshotError(c *fiber.Ctx, err error) error {
	if errors.Is(err, crawl.ErrSessionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "crawl session not found",
		})
	}
	return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
		Success: false,
		Code:    "CRAWL_LOOKUP_FAILED",
		Error:   err.Error(),
	})
}

func storeFrom(c *fiber.Ctx) SessionStore {
	st, _ := c.Locals("store").(SessionStore)
	return st
}

func loggerFrom(c *fiber.Ctx) *slog.Logger {
	lg, _ := c.Locals("logger").(*slog.Logger)
	return lg
}
