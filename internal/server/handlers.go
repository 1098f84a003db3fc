package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"flight-replay/internal/protocol"
	"flight-replay/internal/session"
	"flight-replay/internal/store"
	"flight-replay/internal/videosync"

	"github.com/kataras/iris/v12"
	"github.com/patrickmn/go-cache"
)

// maxPathRange 单次路径查询的最大跨度
const maxPathRange = 10000

// initFields /init 提取的列
var initFields = []store.Field{
	store.FieldLat, store.FieldLon, store.FieldAlt,
	store.FieldRoll, store.FieldPitch, store.FieldYaw,
}

// Handlers API 处理器
type Handlers struct {
	sess *session.Session
	opts Options

	// 列提取结果缓存，键为 字段列表:步长
	columns *cache.Cache
}

// NewHandlers 创建处理器
func NewHandlers(sess *session.Session, opts Options) *Handlers {
	return &Handlers{
		sess:    sess,
		opts:    opts,
		columns: cache.New(cache.NoExpiration, 0),
	}
}

// extractColumns 带缓存的列提取
func (h *Handlers) extractColumns(fields []store.Field, stride int) (store.Columns, error) {
	key := fmt.Sprintf("%v:%d", fields, stride)
	if v, ok := h.columns.Get(key); ok {
		return v.(store.Columns), nil
	}
	cols, err := h.sess.Store().ExtractColumns(fields, stride)
	if err != nil {
		return nil, err
	}
	h.columns.Set(key, cols, cache.NoExpiration)
	return cols, nil
}

func failJSON(ctx iris.Context, status int, err error) {
	ctx.StatusCode(status)
	ctx.JSON(iris.Map{
		"success": false,
		"error":   err.Error(),
		"kind":    session.ErrorKind(err),
	})
}

// parseSeconds 解析有限的秒数
func parseSeconds(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// floatParam 读取路径中的秒数参数，非有限值返回 400
func floatParam(ctx iris.Context, name string) (float64, bool) {
	v, ok := parseSeconds(ctx.Params().Get(name))
	if !ok {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: %s must be a finite number", protocol.ErrInvalidCommand, name))
		return 0, false
	}
	return v, true
}

// ==================== v1 API ====================

// GetInit 汇总信息、标记、完整路径与姿态
// GET /api/v1/init
func (h *Handlers) GetInit(ctx iris.Context) {
	st := h.sess.Store()
	stride := max(h.opts.PathStride, 1)

	cols, err := h.extractColumns(initFields, stride)
	if err != nil {
		failJSON(ctx, iris.StatusInternalServerError, err)
		return
	}

	lats, lons, alts := cols[store.FieldLat], cols[store.FieldLon], cols[store.FieldAlt]
	path := make([]store.PathPoint, len(lats))
	for i := range lats {
		path[i] = store.PathPoint{Index: i * stride, Lat: lats[i], Lon: lons[i], Alt: alts[i]}
	}

	takeoff := 0
	if m, err := h.sess.Marker(0); err == nil {
		takeoff = m.Index
	}

	result := iris.Map{
		"success": true,
		"summary": iris.Map{
			"record_count":    st.Len(),
			"first_timestamp": st.First(),
			"last_timestamp":  st.Last(),
			"duration":        st.Duration(),
			"valid_start":     h.sess.ValidStart(),
		},
		"markers":            h.sess.Markers(),
		"bounds":             st.Bounds(),
		"complete_path":      path,
		"complete_altitudes": alts,
		"complete_attitudes": iris.Map{
			"rolls":   cols[store.FieldRoll],
			"pitches": cols[store.FieldPitch],
			"yaws":    cols[store.FieldYaw],
		},
		"takeoff_index": takeoff,
		"video":         nil,
	}

	if h.opts.VideoID != "" {
		mapper := h.sess.Mapper()
		video := iris.Map{
			"enabled":           true,
			"video_id":          h.opts.VideoID,
			"start_offset":      mapper.StartOffset(),
			"has_timestamp_map": mapper.HasTable(),
			"timestamp_map":     nil,
		}
		if mapper.HasTable() {
			video["timestamp_map"] = mapper.Entries(h.opts.MapPreviewLimit)
		}
		result["video"] = video
	}

	ctx.JSON(result)
}

// GetData 按索引获取记录
// GET /api/v1/data/{index:int}
func (h *Handlers) GetData(ctx iris.Context) {
	index, err := ctx.Params().GetInt("index")
	if err != nil {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: index", protocol.ErrInvalidCommand))
		return
	}

	rec, err := h.sess.Store().Get(index)
	if err != nil {
		failJSON(ctx, iris.StatusNotFound, err)
		return
	}
	ctx.JSON(iris.Map{
		"success":           true,
		"data":              protocol.FrameFromRecord(rec, protocol.SourceAutonomous),
		"attitude":          rec.VehicleOrientation.Euler(),
		"helmet_local":      rec.HelmetOrientationLocal,
		"velocity":          rec.Velocity,
		"timestamp_seconds": rec.TimestampSeconds,
	})
}

// FindIndex 最近记录索引
// GET /api/v1/find-index/{t}
func (h *Handlers) FindIndex(ctx iris.Context) {
	t, ok := floatParam(ctx, "t")
	if !ok {
		return
	}
	ctx.JSON(iris.Map{
		"success":   true,
		"index":     h.sess.Store().FindNearestIndex(t),
		"timestamp": t,
	})
}

// GetPath 路径区间 [start, end]，跨度最多 maxPathRange
// GET /api/v1/path/{start:int}/{end:int}
func (h *Handlers) GetPath(ctx iris.Context) {
	start, err1 := ctx.Params().GetInt("start")
	end, err2 := ctx.Params().GetInt("end")
	if err := errors.Join(err1, err2); err != nil {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: %v", protocol.ErrInvalidCommand, err))
		return
	}

	st := h.sess.Store()
	start = max(start, 0)
	end = min(end, st.Len()-1)
	if end-start > maxPathRange {
		end = start + maxPathRange
	}
	points := st.Path(start, end+1, 0)
	ctx.JSON(iris.Map{
		"success":     true,
		"path":        points,
		"start_index": start,
		"end_index":   end,
	})
}

// GetVideoTime 数据时间 -> 视频时间
// GET /api/v1/video-time/{t}
func (h *Handlers) GetVideoTime(ctx iris.Context) {
	t, ok := floatParam(ctx, "t")
	if !ok {
		return
	}
	mapper := h.sess.Mapper()
	ctx.JSON(iris.Map{
		"success":      true,
		"video_time":   mapper.DataToVideoTime(t),
		"using_offset": !mapper.HasTable(),
	})
}

// GetDataTimestamp 视频时间 -> 数据时间
// GET /api/v1/data-timestamp/{t}
func (h *Handlers) GetDataTimestamp(ctx iris.Context) {
	t, ok := floatParam(ctx, "t")
	if !ok {
		return
	}
	mapper := h.sess.Mapper()
	ctx.JSON(iris.Map{
		"success":        true,
		"data_timestamp": mapper.VideoToDataTime(t),
		"using_offset":   !mapper.HasTable(),
	})
}

// GetDataForVideoTime 视频时间对应的记录；超出范围明确报告，不截断
// GET /api/v1/data-for-video-time/{t}
// GET /api/v1/data-for-video-time?video_time=
func (h *Handlers) GetDataForVideoTime(ctx iris.Context) {
	raw := ctx.Params().Get("t")
	if raw == "" {
		raw = ctx.URLParam("video_time")
	}
	if raw == "" {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: video_time parameter required", protocol.ErrInvalidCommand))
		return
	}
	vt, ok := parseSeconds(raw)
	if !ok {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: video_time must be a finite number", protocol.ErrInvalidCommand))
		return
	}

	frame, err := videosync.LookupVideoTime(ctx.Request().Context(), h.sess.Mapper(), h.sess.Store(), h.sess.ValidStart(), vt)
	if err != nil {
		// 超出范围用 200 + success=false，前端自行处理
		status := iris.StatusOK
		if !errors.Is(err, videosync.ErrOutOfRange) && !errors.Is(err, videosync.ErrBeforeValidStart) {
			status = iris.StatusInternalServerError
		}
		failJSON(ctx, status, err)
		return
	}

	ctx.JSON(iris.Map{
		"success":        true,
		"data":           frame,
		"index":          frame.Index,
		"video_time":     vt,
		"data_timestamp": *frame.DataTimestamp,
	})
}

// JumpToMarker 跳转到标记点并暂停
// GET /api/v1/jump/{marker:int}
func (h *Handlers) JumpToMarker(ctx iris.Context) {
	id, err := ctx.Params().GetInt("marker")
	if err != nil {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: marker", protocol.ErrInvalidCommand))
		return
	}

	index, err := h.sess.JumpToMarker(id)
	if err != nil {
		status := iris.StatusInternalServerError
		if errors.Is(err, session.ErrMarkerNotFound) {
			status = iris.StatusBadRequest
		}
		failJSON(ctx, status, err)
		return
	}

	m, _ := h.sess.Marker(id)
	ctx.JSON(iris.Map{"success": true, "index": index, "timestamp": m.Timestamp, "name": m.Name})
}

// GetStatus 会话状态
// GET /api/v1/status
func (h *Handlers) GetStatus(ctx iris.Context) {
	ctx.JSON(iris.Map{
		"success":  true,
		"session":  h.sess.ID(),
		"mode":     h.sess.Mode(),
		"playback": h.sess.PlaybackState(),
		"sync":     h.sess.SyncStats(),
		"records":  h.sess.Store().Len(),
	})
}

// PostPlayback 执行控制命令
// POST /api/v1/playback
func (h *Handlers) PostPlayback(ctx iris.Context) {
	var cmd protocol.Command
	if err := ctx.ReadJSON(&cmd); err != nil {
		failJSON(ctx, iris.StatusBadRequest, fmt.Errorf("%w: invalid JSON", protocol.ErrInvalidCommand))
		return
	}

	if err := h.sess.HandleCommand(cmd); err != nil {
		status := iris.StatusBadRequest
		if errors.Is(err, session.ErrVideoSyncActive) {
			status = iris.StatusConflict
		}
		failJSON(ctx, status, err)
		return
	}
	ctx.JSON(iris.Map{"success": true, "mode": h.sess.Mode(), "playback": h.sess.PlaybackState()})
}

// ==================== 路由注册 ====================

// RegisterRoutes 注册路由
func RegisterRoutes(app *iris.Application, h *Handlers, hub *SocketHub) {
	v1 := app.Party("/api/v1")
	{
		v1.Get("/init", h.GetInit)
		v1.Get("/data/{index:int}", h.GetData)
		v1.Get("/find-index/{t}", h.FindIndex)
		v1.Get("/path/{start:int}/{end:int}", h.GetPath)
		v1.Get("/video-time/{t}", h.GetVideoTime)
		v1.Get("/data-timestamp/{t}", h.GetDataTimestamp)
		v1.Get("/data-for-video-time", h.GetDataForVideoTime)
		v1.Get("/data-for-video-time/{t}", h.GetDataForVideoTime)
		v1.Get("/jump/{marker:int}", h.JumpToMarker)
		v1.Get("/status", h.GetStatus)
		v1.Post("/playback", h.PostPlayback)
		v1.Get("/stream", h.HandleStream) // 视频同步 WebSocket
		v1.Get("/socket", hub.Handler())  // neffos 回放通道
	}
}
