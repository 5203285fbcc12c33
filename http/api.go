package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stremd/stremd"
	"github.com/stremd/stremd/config"
	"github.com/stremd/stremd/engine"
	"github.com/stremd/stremd/stream"
)

// Engine is the handler-facing surface of the torrent engine. Satisfied by
// *engine.Engine, faked in tests.
type Engine interface {
	StartTorrent(hash string, fileIdx, season, episode int) (engine.Snapshot, error)
	GetState(hash string) (engine.Snapshot, bool)
	Status(hash string) (engine.StatusInfo, bool)
	PauseTorrent(hash string)
	RemoveTorrent(hash string)
	SetMeteredMode(on bool)
	Metered() bool

	stream.Backend
}

var hashRe = regexp.MustCompile(`^[a-fA-F0-9]+$`)

const metadataPollInterval = 250 * time.Millisecond

func registerRoutes(r *gin.Engine, e Engine, streamCfg *config.StreamGlobal) {
	r.GET("/status/check", healthHandler)
	r.GET("/start/:hash", startHandler(e))
	r.GET("/status/:hash", statusHandler(e))
	r.GET("/pause/:hash", pauseHandler(e))
	r.GET("/stop/:hash", stopHandler(e))
	r.GET("/network/metered", meteredHandler(e))
	r.GET("/proxy/:hash", proxyHandler(e, streamCfg))
	r.NoRoute(notFoundHandler)
}

func notFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": "Not found",
		"uri":   c.Request.RequestURI,
	})
}

var healthHandler = func(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"platform": runtime.GOOS,
		"version":  stremd.Version,
	})
}

// requireHash rejects non-hex path params the same way an unknown route is
// rejected.
func requireHash(c *gin.Context) (string, bool) {
	h := c.Param("hash")
	if !hashRe.MatchString(h) {
		notFoundHandler(c)
		return "", false
	}
	return h, true
}

// queryInt reads an optional non-negative integer query param, -1 when
// absent or malformed.
func queryInt(c *gin.Context, key string) int {
	v := c.Query(key)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func intOrNil(v int) interface{} {
	if v < 0 {
		return nil
	}
	return v
}

var startHandler = func(e Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, ok := requireHash(c)
		if !ok {
			return
		}

		fileIdx := queryInt(c, "fileIdx")
		season := queryInt(c, "season")
		episode := queryInt(c, "episode")

		if _, err := e.StartTorrent(hash, fileIdx, season, episode); err != nil {
			switch {
			case errors.Is(err, engine.ErrInvalidHash):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, engine.ErrStopped):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "started",
			"hash":    hash,
			"fileIdx": intOrNil(fileIdx),
			"season":  intOrNil(season),
			"episode": intOrNil(episode),
		})
	}
}

var statusHandler = func(e Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, ok := requireHash(c)
		if !ok {
			return
		}

		st, found := e.Status(hash)
		if !found {
			c.JSON(http.StatusOK, gin.H{
				"status":        string(engine.StatusNotStarted),
				"metadataReady": false,
				"fileName":      nil,
				"fileSize":      nil,
				"fileIdx":       nil,
				"totalFiles":    nil,
				"duration":      nil,
				"peers":         nil,
				"seeds":         nil,
				"speed":         nil,
				"progress":      nil,
			})
			return
		}

		snap := st.Snapshot
		payload := gin.H{
			"status":        string(snap.Status),
			"metadataReady": snap.MetadataReady,
			"fileName":      nil,
			"fileSize":      nil,
			"fileIdx":       nil,
			"totalFiles":    nil,
			"duration":      nil,
			"peers":         st.Live.Peers,
			"seeds":         st.Live.Seeders,
			"speed":         fmt.Sprintf("%.2f", st.Live.DownloadRate/1024),
			"progress":      fmt.Sprintf("%.1f", st.Progress*100),
		}
		if snap.MetadataReady {
			payload["fileName"] = snap.FileName
			payload["fileSize"] = snap.FileSize
			payload["fileIdx"] = snap.FileIndex
			payload["totalFiles"] = snap.TotalFiles
		}

		c.JSON(http.StatusOK, payload)
	}
}

var pauseHandler = func(e Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, ok := requireHash(c)
		if !ok {
			return
		}

		e.PauseTorrent(hash)
		c.JSON(http.StatusOK, gin.H{"status": "paused", "hash": hash})
	}
}

var stopHandler = func(e Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash, ok := requireHash(c)
		if !ok {
			return
		}

		e.RemoveTorrent(hash)
		c.JSON(http.StatusOK, gin.H{"status": "removed", "hash": hash})
	}
}

var meteredHandler = func(e Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		on, err := strconv.ParseBool(c.Query("value"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid value"})
			return
		}

		e.SetMeteredMode(on)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "metered": e.Metered()})
	}
}

var proxyHandler = func(e Engine, streamCfg *config.StreamGlobal) gin.HandlerFunc {
	metadataTimeout := time.Duration(streamCfg.MetadataTimeout) * time.Second
	pieceTimeout := time.Duration(streamCfg.PieceTimeout) * time.Second

	return func(c *gin.Context) {
		hash, ok := requireHash(c)
		if !ok {
			return
		}

		snap, ok := waitForMetadata(c, e, hash, metadataTimeout)
		if !ok {
			return
		}

		size := snap.FileSize
		start, end := int64(0), size-1
		status := http.StatusOK

		if header := c.GetHeader("Range"); header != "" {
			r, err := parseRange(header, size)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
				return
			}
			start, end = r.start, r.end
			status = http.StatusPartialContent
		}

		h, err := stream.Open(e, hash, start, end, pieceTimeout)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrUnknownTorrent):
				notFoundHandler(c)
			case errors.Is(err, engine.ErrTorrentError):
				c.JSON(http.StatusInternalServerError, gin.H{"error": "torrent in error state"})
			case errors.Is(err, engine.ErrNotReady), errors.Is(err, stream.ErrNotOnDisk):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "file not ready"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		defer h.Close()

		// A client disconnect must unblock any in-flight piece wait.
		served := make(chan struct{})
		defer close(served)
		go func() {
			select {
			case <-c.Request.Context().Done():
				h.Close()
			case <-served:
			}
		}()

		c.Header("Content-Type", contentType(snap.FileName))
		c.Header("Accept-Ranges", "bytes")
		c.Header("Content-Length", strconv.FormatInt(h.ContentLength(), 10))
		if status == http.StatusPartialContent {
			c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		}
		c.Status(status)

		io.Copy(c.Writer, h)
	}
}

// waitForMetadata polls the torrent state until metadata arrives, the
// torrent errors, the client goes away, or the timeout elapses.
func waitForMetadata(c *gin.Context, e Engine, hash string, timeout time.Duration) (engine.Snapshot, bool) {
	deadline := time.Now().Add(timeout)

	for {
		snap, found := e.GetState(hash)
		if !found {
			notFoundHandler(c)
			return engine.Snapshot{}, false
		}
		if snap.Status == engine.StatusError {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "torrent in error state"})
			return engine.Snapshot{}, false
		}
		if snap.MetadataReady {
			return snap, true
		}
		if time.Now().After(deadline) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metadata not ready"})
			return engine.Snapshot{}, false
		}

		select {
		case <-c.Request.Context().Done():
			return engine.Snapshot{}, false
		case <-time.After(metadataPollInterval):
		}
	}
}
