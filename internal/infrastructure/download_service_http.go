package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errTooManyRedirects = errors.New("too many redirects")

// HTTPDownloadService implements domain.DownloadService on top of net/http.
// Each enqueued request is transferred by its own goroutine into a hidden
// .part file next to the destination, renamed once complete.
type HTTPDownloadService struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	lastHandle atomic.Int64
	mu         sync.Mutex
	entries    map[int64]*downloadEntry
}

type downloadEntry struct {
	mu       sync.Mutex
	snapshot domain.DownloadSnapshot
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHTTPDownloadService creates the download service
func NewHTTPDownloadService(config *domain.DownloadConfig, logger *zap.Logger) *HTTPDownloadService {
	maxRedirects := config.MaxRedirects
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}

	return &HTTPDownloadService{
		client:    client,
		userAgent: config.UserAgent,
		logger:    logger,
		entries:   make(map[int64]*downloadEntry),
	}
}

// Enqueue implements domain.DownloadService
func (s *HTTPDownloadService) Enqueue(req *domain.DownloadRequest) (int64, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return 0, fmt.Errorf("invalid download url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if req.Destination == "" {
		return 0, fmt.Errorf("download destination not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &downloadEntry{
		snapshot: domain.DownloadSnapshot{
			Status:     domain.DownloadPending,
			TotalBytes: -1,
			MimeType:   req.MimeType,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	handle := s.lastHandle.Add(1)
	s.mu.Lock()
	s.entries[handle] = entry
	s.mu.Unlock()

	s.logger.Debug("Download enqueued",
		zap.Int64("handle", handle),
		zap.String("url", req.URL),
		zap.String("destination", req.Destination))

	go s.run(ctx, handle, entry, req)
	return handle, nil
}

// Query implements domain.DownloadService
func (s *HTTPDownloadService) Query(handle int64) (domain.DownloadSnapshot, bool, error) {
	entry := s.entry(handle)
	if entry == nil {
		return domain.DownloadSnapshot{}, false, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshot, true, nil
}

// Remove implements domain.DownloadService. It waits for the transfer
// goroutine so that no partial file is left behind.
func (s *HTTPDownloadService) Remove(handle int64) error {
	s.mu.Lock()
	entry, ok := s.entries[handle]
	delete(s.entries, handle)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	entry.cancel()
	<-entry.done
	return nil
}

// MimeType implements domain.DownloadService
func (s *HTTPDownloadService) MimeType(handle int64) string {
	snapshot, ok, _ := s.Query(handle)
	if !ok {
		return ""
	}
	return snapshot.MimeType
}

// Close cancels every transfer
func (s *HTTPDownloadService) Close() {
	s.mu.Lock()
	handles := make([]int64, 0, len(s.entries))
	for h := range s.entries {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.Remove(h)
	}
}

func (s *HTTPDownloadService) entry(handle int64) *downloadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[handle]
}

func (s *HTTPDownloadService) run(ctx context.Context, handle int64, entry *downloadEntry, req *domain.DownloadRequest) {
	defer close(entry.done)

	code, err := s.transfer(ctx, entry, req)
	if ctx.Err() != nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err != nil {
		s.logger.Warn("Download failed",
			zap.Int64("handle", handle),
			zap.Int("reason", code),
			zap.Error(err))
		entry.snapshot.Status = domain.DownloadFailed
		entry.snapshot.Reason = code
		return
	}

	entry.snapshot.Status = domain.DownloadSuccessful
	entry.snapshot.LocalPath = req.Destination
	if entry.snapshot.TotalBytes < 0 {
		entry.snapshot.TotalBytes = entry.snapshot.BytesSoFar
	}
}

// transfer performs the request and returns the platform error code that
// describes a failure
func (s *HTTPDownloadService) transfer(ctx context.Context, entry *downloadEntry, req *domain.DownloadRequest) (int, error) {
	if !req.Overwrite {
		if _, err := os.Stat(req.Destination); err == nil {
			return domain.ErrorFileAlreadyExists, fmt.Errorf("destination %s already exists", req.Destination)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return domain.ErrorUnknown, err
	}
	if s.userAgent != "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, errTooManyRedirects) {
			return domain.ErrorTooManyRedirects, err
		}
		return domain.ErrorUnknown, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return domain.ErrorCannotResume, fmt.Errorf("unexpected status: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.ErrorUnhandledHTTPCode, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	entry.mu.Lock()
	entry.snapshot.Status = domain.DownloadRunning
	if resp.ContentLength >= 0 {
		entry.snapshot.TotalBytes = resp.ContentLength
	}
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		entry.snapshot.MimeType = mediaType
	}
	entry.mu.Unlock()

	dir := filepath.Dir(req.Destination)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.ErrorDeviceNotFound, err
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".part")
	file, err := os.Create(tmp)
	if err != nil {
		return domain.ErrorFileError, err
	}
	defer os.Remove(tmp)

	code, err := copyBody(file, resp.Body, entry)
	if cerr := file.Close(); err == nil && cerr != nil {
		code, err = domain.ErrorFileError, cerr
	}
	if err != nil {
		return code, err
	}

	if resp.ContentLength >= 0 {
		entry.mu.Lock()
		got := entry.snapshot.BytesSoFar
		entry.mu.Unlock()
		if got != resp.ContentLength {
			return domain.ErrorHTTPDataError, fmt.Errorf("short body: got %d of %d bytes", got, resp.ContentLength)
		}
	}

	if err := os.Rename(tmp, req.Destination); err != nil {
		return domain.ErrorFileError, err
	}
	return 0, nil
}

func copyBody(dst io.Writer, src io.Reader, entry *downloadEntry) (int, error) {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				if errors.Is(werr, syscall.ENOSPC) {
					return domain.ErrorInsufficientSpace, werr
				}
				return domain.ErrorFileError, werr
			}
			entry.mu.Lock()
			entry.snapshot.BytesSoFar += int64(n)
			entry.mu.Unlock()
		}
		if rerr == io.EOF {
			return 0, nil
		}
		if rerr != nil {
			return domain.ErrorHTTPDataError, rerr
		}
	}
}
