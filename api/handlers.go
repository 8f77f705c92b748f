package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardflow-api/board"
	"boardflow-api/domain"
	"boardflow-api/storage"
)

const writeBodyMaxSize = 64 * 1024 // 64 KiB

// Deps bundles the collaborators the API routes need.
type Deps struct {
	Store      Storage
	Catalog    *domain.Catalog
	Controller Transitioner
	Events     Publisher
	Feed       NotificationSource
	Auth       Authenticator
	Deduper    Deduper
	Stream     *EventStream
	Log        *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	e.GET("/api/board/:board", getBoard(d))
	e.POST("/api/items", postItem(d))
	e.PUT("/api/items/:id/stage", putItemStage(d))
	e.DELETE("/api/items/:id", deleteItem(d))
	e.GET("/api/notifications", getNotifications(d))
	if d.Stream != nil {
		e.GET("/api/board/:board/events", streamBoardEvents(d.Stream, d.Catalog, d.Auth))
	}
	e.GET("/healthz", healthz())
}

type boardResponse struct {
	Board  domain.BoardType `json:"board"`
	Stages []stageColumn    `json:"stages"`
}

type stageColumn struct {
	Stage      domain.DisplayStage `json:"stage"`
	Count      int                 `json:"count"`
	TotalValue domain.Money        `json:"totalValue"`
	Items      []boardItem         `json:"items"`
}

type boardItem struct {
	domain.Item
	Stage          domain.DisplayStage `json:"stage"`
	AgeInStageDays int                 `json:"ageInStageDays"`
	Health         domain.Indicator    `json:"health"`
}

func buildBoardResponse(tax *domain.Taxonomy, items []domain.Item, now time.Time) boardResponse {
	groups := domain.GroupByStage(tax, items)
	resp := boardResponse{Board: tax.Board(), Stages: make([]stageColumn, 0, len(groups))}
	for _, g := range groups {
		col := stageColumn{
			Stage:      g.Stage,
			Count:      g.Count,
			TotalValue: g.TotalValue,
			Items:      make([]boardItem, 0, len(g.Items)),
		}
		for _, it := range g.Items {
			age := it.AgeInStage(now)
			col.Items = append(col.Items, boardItem{
				Item:           it,
				Stage:          g.Stage,
				AgeInStageDays: age,
				Health:         domain.Classify(age, it.Urgent),
			})
		}
		resp.Stages = append(resp.Stages, col)
	}
	return resp
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, d.Log)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		accountID, authErr := d.Auth.AccountIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardType := domain.BoardType(c.Param("board"))
		tax, taxErr := d.Catalog.For(boardType)
		if taxErr != nil {
			metrics.SetErrorStage("unknown_board")
			err = c.String(http.StatusBadRequest, "unknown board type")
			return err
		}
		metrics.SetBoard(boardType)

		fetchStart := time.Now()
		items, fetchErr := d.Store.ListItems(ctx, accountID, boardType)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}
		metrics.SetItemsReturned(len(items))

		resp := buildBoardResponse(tax, items, time.Now().UTC())
		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

type createItemRequest struct {
	Board     string            `json:"board"`
	Title     string            `json:"title"`
	Stage     string            `json:"stage,omitempty"`
	Value     domain.Money      `json:"value,omitempty"`
	Urgent    bool              `json:"urgent,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Assignees []domain.Assignee `json:"assignees,omitempty"`
}

func postItem(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		accountID, err := d.Auth.AccountIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createItemRequest
		if err := decodeBody(c.Request().Body, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		tax, err := d.Catalog.For(domain.BoardType(req.Board))
		if err != nil {
			return c.String(http.StatusBadRequest, "unknown board type")
		}
		stage := tax.EntryStage()
		if req.Stage != "" {
			stage = domain.DisplayStage(req.Stage)
			if !tax.Contains(stage) {
				return c.String(http.StatusBadRequest, "unknown display stage")
			}
		}

		item := domain.Item{
			Board:     tax.Board(),
			Title:     req.Title,
			Status:    tax.ToPersisted(stage),
			Value:     req.Value,
			Urgent:    req.Urgent,
			Tags:      req.Tags,
			Assignees: req.Assignees,
		}
		created, err := d.Store.CreateItem(ctx, accountID, item)
		if err != nil {
			if errors.Is(err, storage.ErrStaleItem) {
				return c.String(http.StatusConflict, "item already exists")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create item")
		}

		if d.Events != nil {
			d.Events.Publish(accountID, domain.BoardEvent{
				Type:   domain.EventItemCreated,
				Board:  created.Board,
				ItemID: created.ID,
				To:     stage,
				At:     time.Now().UTC(),
			})
		}
		return c.JSON(http.StatusCreated, created)
	}
}

type stageChangeRequest struct {
	Stage          string `json:"stage"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type stageChangeResponse struct {
	Item      *domain.Item `json:"item,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func putItemStage(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		accountID, err := d.Auth.AccountIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req stageChangeRequest
		if err := decodeBody(c.Request().Body, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Stage == "" {
			return c.String(http.StatusBadRequest, "stage is required")
		}

		item, err := d.Store.GetItem(ctx, accountID, c.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "item not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load item")
		}

		keyAdded := false
		if req.IdempotencyKey != "" && d.Deduper != nil {
			added, dedupeErr := d.Deduper.Add(ctx, accountID, req.IdempotencyKey)
			if dedupeErr != nil {
				c.Logger().Error(dedupeErr)
				return c.String(http.StatusInternalServerError, "idempotency check failed")
			}
			if !added {
				return c.JSON(http.StatusOK, stageChangeResponse{Duplicate: true})
			}
			keyAdded = true
		}

		updated, err := d.Controller.RequestTransition(ctx, accountID, item, domain.DisplayStage(req.Stage))
		if err != nil {
			if keyAdded {
				// Free the key so the client may retry the same submission.
				if rerr := d.Deduper.Remove(ctx, accountID, req.IdempotencyKey); rerr != nil {
					c.Logger().Error(rerr)
				}
			}
			return transitionError(c, err)
		}
		return c.JSON(http.StatusOK, stageChangeResponse{Item: &updated})
	}
}

func transitionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, board.ErrUnknownStage), errors.Is(err, domain.ErrUnknownBoard):
		return c.JSON(http.StatusBadRequest, stageChangeResponse{Error: err.Error()})
	case errors.Is(err, board.ErrTransitionInFlight):
		return c.JSON(http.StatusConflict, stageChangeResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrStaleItem):
		return c.JSON(http.StatusConflict, stageChangeResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, stageChangeResponse{Error: err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, stageChangeResponse{Error: "stage update failed"})
	}
}

func deleteItem(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		accountID, err := d.Auth.AccountIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		// Fetched first so the deletion event can name the board.
		item, err := d.Store.GetItem(ctx, accountID, c.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "item not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to load item")
		}
		if err := d.Store.DeleteItem(ctx, accountID, item.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return c.String(http.StatusNotFound, "item not found")
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to delete item")
		}

		if d.Events != nil {
			d.Events.Publish(accountID, domain.BoardEvent{
				Type:   domain.EventItemDeleted,
				Board:  item.Board,
				ItemID: item.ID,
				At:     time.Now().UTC(),
			})
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type notificationsResponse struct {
	Notifications []board.Notification `json:"notifications"`
}

func getNotifications(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		accountID, err := d.Auth.AccountIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		return c.JSON(http.StatusOK, notificationsResponse{Notifications: d.Feed.Recent(accountID)})
	}
}

func decodeBody(body io.Reader, dst any) error {
	lr := io.LimitReader(body, writeBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
