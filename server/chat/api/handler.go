package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"akashshare/server/chat/domain"
	"akashshare/server/chat/service"
	commonlog "akashshare/server/common/log"
	"akashshare/server/common/transport/httpresp"
)

type Handler struct {
	manager  *service.Manager
	upgrader websocket.Upgrader
}

func NewHandler(manager *service.Manager, allowedOrigins []string) *Handler {
	policy := newOriginPolicy(allowedOrigins)
	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat", h.handleWS)

	api := r.Group("/api/v1")
	{
		api.GET("/rooms", h.listRooms)
	}
}

// handleWS validates the query before upgrading so a bad request still gets a
// plain HTTP error. After the upgrade it blocks until the socket closes.
func (h *Handler) handleWS(c *gin.Context) {
	username := c.Query("username")
	if h.manager.CleanUsername(username) == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrUsernameRequired))
		return
	}
	room := strings.TrimSpace(c.Query("room"))
	if room == "" {
		room = domain.DefaultRoom
	}
	if !domain.ValidRoomName(room) {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidRoom))
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		commonlog.Warnf("event=http_chat action=upgrade status=failed remote=%s err=%v", c.ClientIP(), err)
		return
	}
	if err := h.manager.Serve(ws, username, room); err != nil {
		commonlog.Warnf("event=http_chat action=serve status=failed remote=%s err=%v", c.ClientIP(), err)
	}
}

func (h *Handler) listRooms(c *gin.Context) {
	rooms := h.manager.Hub().Rooms()
	out := make([]httpresp.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, httpresp.RoomSummary{Name: r.Name, Members: r.Members})
	}
	c.JSON(http.StatusOK, out)
}
