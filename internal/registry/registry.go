package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/config"
)

var (
	ErrNotFound  = errors.New("camera not found")
	ErrExists    = errors.New("camera already exists")
	ErrRecording = errors.New("camera is recording")
	ErrInvalid   = errors.New("invalid camera")
)

// idPattern keeps ids usable as directory names and filename prefixes.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// reservedIDs collide with directories the recorder owns.
var reservedIDs = map[string]bool{"sessions": true}

// Camera is a capture source.
type Camera struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RTSPURL   string    `json:"rtsp_url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Update carries the fields of a partial camera update.
type Update struct {
	Name    *string
	RTSPURL *string
	Enabled *bool
}

// Registry holds the configured cameras and writes changes back to the
// config file when one is set.
type Registry struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	cameras map[string]*Camera
	order   []string
}

// New builds a registry from config entries. An empty path disables persistence.
func New(path string, entries []config.CameraConfig, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		path:    path,
		logger:  logger,
		now:     time.Now,
		cameras: make(map[string]*Camera),
	}
	created := r.now()
	for _, e := range entries {
		cam := Camera{
			ID:        e.ID,
			Name:      e.Name,
			RTSPURL:   e.RTSPURL,
			Enabled:   e.IsEnabled(),
			CreatedAt: created,
		}
		if cam.Name == "" {
			cam.Name = cam.ID
		}
		if err := validate(cam); err != nil {
			return nil, err
		}
		if _, ok := r.cameras[cam.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrExists, cam.ID)
		}
		r.cameras[cam.ID] = &cam
		r.order = append(r.order, cam.ID)
	}
	return r, nil
}

// Get returns a copy of the camera with the given id.
func (r *Registry) Get(id string) (Camera, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cam, ok := r.cameras[id]
	if !ok {
		return Camera{}, false
	}
	return *cam, true
}

// List returns all cameras in insertion order.
func (r *Registry) List() []Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Camera, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.cameras[id])
	}
	return out
}

// Add registers a new camera and persists the registry.
func (r *Registry) Add(cam Camera) (Camera, error) {
	if cam.Name == "" {
		cam.Name = cam.ID
	}
	if err := validate(cam); err != nil {
		return Camera{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cameras[cam.ID]; ok {
		return Camera{}, fmt.Errorf("%w: %s", ErrExists, cam.ID)
	}
	cam.CreatedAt = r.now()
	r.cameras[cam.ID] = &cam
	r.order = append(r.order, cam.ID)

	if err := r.saveLocked(); err != nil {
		delete(r.cameras, cam.ID)
		r.order = r.order[:len(r.order)-1]
		return Camera{}, err
	}
	r.logger.Info("camera added", zap.String("cameraId", cam.ID))
	return cam, nil
}

// Update applies a partial update and persists the registry.
func (r *Registry) Update(id string, u Update) (Camera, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.cameras[id]
	if !ok {
		return Camera{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := *cur
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.RTSPURL != nil {
		next.RTSPURL = *u.RTSPURL
	}
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if err := validate(next); err != nil {
		return Camera{}, err
	}

	r.cameras[id] = &next
	if err := r.saveLocked(); err != nil {
		r.cameras[id] = cur
		return Camera{}, err
	}
	r.logger.Info("camera updated", zap.String("cameraId", id))
	return next, nil
}

// Remove deletes a camera and persists the registry. Callers check that the
// camera is not recording first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cam, ok := r.cameras[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prevOrder := append([]string(nil), r.order...)
	delete(r.cameras, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if err := r.saveLocked(); err != nil {
		r.cameras[id] = cam
		r.order = prevOrder
		return err
	}
	r.logger.Info("camera removed", zap.String("cameraId", id))
	return nil
}

func validate(cam Camera) error {
	if !idPattern.MatchString(cam.ID) || reservedIDs[cam.ID] {
		return fmt.Errorf("%w: id %q must be 1-64 letters, digits, '.', '_' or '-'", ErrInvalid, cam.ID)
	}
	if err := capture.ValidateInputURI(cam.RTSPURL); err != nil {
		return fmt.Errorf("%w: rtsp_url: %v", ErrInvalid, err)
	}
	return nil
}

// saveLocked rewrites the cameras key of the config file, keeping every other
// key and its comments.
func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}

	var doc yaml.Node
	data, err := os.ReadFile(r.path)
	switch {
	case err == nil && len(data) > 0:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", r.path, err)
		}
	case err == nil || os.IsNotExist(err):
	default:
		return fmt.Errorf("reading %s: %w", r.path, err)
	}

	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", r.path)
	}

	entries := make([]config.CameraConfig, 0, len(r.order))
	for _, id := range r.order {
		cam := r.cameras[id]
		enabled := cam.Enabled
		entries = append(entries, config.CameraConfig{
			ID:      cam.ID,
			Name:    cam.Name,
			RTSPURL: cam.RTSPURL,
			Enabled: &enabled,
		})
	}
	var value yaml.Node
	if err := value.Encode(entries); err != nil {
		return fmt.Errorf("encoding cameras: %w", err)
	}

	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "cameras" {
			root.Content[i+1] = &value
			replaced = true
			break
		}
	}
	if !replaced {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "cameras"},
			&value)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", r.path, err)
	}
	return writeAtomic(r.path, out)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("saving %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}
