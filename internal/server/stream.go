package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"camnego/internal/camera"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const mjpegBoundary = "frame"

var (
	pingInterval = 30 * time.Second
	pingTimeout  = 5 * time.Second
	writeTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errCameraNotActive = errors.New("カメラがアクティブではありません")

// activeCamera はカメラが存在して配信中であることを確認する
func (h *Handler) activeCamera(c *gin.Context) (string, bool) {
	id, ok := h.cameraID(c)
	if !ok {
		return "", false
	}

	cam, found := h.cameraManager.GetCamera(id)
	if !found {
		h.writeError(c, camera.ErrCameraNotFound)
		return "", false
	}

	if cam.Status != camera.StatusActive {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "camera_not_active",
			Message:   errCameraNotActive.Error(),
			Timestamp: time.Now(),
		})
		return "", false
	}
	return id, true
}

// GetCameraSnapshot は最後に配信されたフレームをJPEGで返す
func (h *Handler) GetCameraSnapshot(c *gin.Context) {
	id, ok := h.activeCamera(c)
	if !ok {
		return
	}

	frame, ok := h.cameraManager.LatestFrame(id)
	if !ok {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "no_frame",
			Message:   "まだフレームが届いていません",
			Timestamp: time.Now(),
		})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-Sequence", strconv.FormatUint(frame.Sequence, 10))
	c.Header("X-Frame-Rotation", strconv.Itoa(frame.Rotation))
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

// GetCameraStream はMJPEGストリーミングエンドポイントの実装
func (h *Handler) GetCameraStream(c *gin.Context) {
	id, ok := h.activeCamera(c)
	if !ok {
		return
	}

	frames, unsubscribe, err := h.cameraManager.Subscribe(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer unsubscribe()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	writer := c.Writer
	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return
		case <-h.done:
			return
		case frame, ok := <-frames:
			if !ok {
				// カメラが削除されたか、配信が終了した
				return
			}
			if err := writeMJPEGPart(writer, frame); err != nil {
				h.log.Debug().Err(err).Str("camera", id).Msg("MJPEGクライアントが切断されました")
				return
			}
			writer.Flush()
		}
	}
}

// writeMJPEGPart はフレームをmultipartの1パートとして書き込む
func writeMJPEGPart(w http.ResponseWriter, frame camera.Frame) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		mjpegBoundary, len(frame.Data))
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(frame.Data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// GetCameraWebSocket はフレームをWebSocketのバイナリメッセージで配信する
func (h *Handler) GetCameraWebSocket(c *gin.Context) {
	id, ok := h.activeCamera(c)
	if !ok {
		return
	}

	frames, unsubscribe, err := h.cameraManager.Subscribe(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgradeが応答を書き込み済み
		h.log.Debug().Err(err).Msg("WebSocketへの切り替えに失敗")
		return
	}
	defer conn.Close() //nolint:errcheck

	log := h.log.With().Str("camera", id).Str("remote", conn.RemoteAddr().String()).Logger()
	log.Debug().Msg("WebSocketクライアントが接続しました")

	// クライアントからのメッセージは読み捨て、切断の検知とPongの処理だけを行う
	readDone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-readDone:
			log.Debug().Msg("WebSocketクライアントが切断しました")
			return

		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeTimeout))
			return

		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case frame, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
				log.Debug().Err(err).Msg("WebSocketへの書き込みに失敗")
				return
			}
		}
	}
}

// closeStreams は配信中の全ての接続を終了させる
func (h *Handler) closeStreams() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
