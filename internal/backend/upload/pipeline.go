package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/testimonials/internal/backend/commands"
	"github.com/jo-hoe/testimonials/internal/common"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Config controls where images are stored and what is accepted.
type Config struct {
	StorageRoot       string
	ImageFolder       string
	ThumbnailFolder   string
	ThumbnailEnabled  bool
	ThumbnailWidth    int
	AllowedExtensions []string
	MaxFileSize       int64
	MinWidth          int
	MinHeight         int
	// TimestampPrefix prefixes stored names with a sortable UTC timestamp.
	TimestampPrefix bool
}

// DefaultConfig returns the limits testimonials have always used.
func DefaultConfig() Config {
	return Config{
		StorageRoot:       "images",
		ImageFolder:       "testimonials",
		ThumbnailFolder:   "thumbs",
		ThumbnailEnabled:  false,
		ThumbnailWidth:    200,
		AllowedExtensions: []string{"gif", "jpg", "jpeg", "png"},
		MaxFileSize:       7240000,
		MinWidth:          200,
		MinHeight:         150,
	}
}

// StoredImage describes an image that passed validation and was written.
type StoredImage struct {
	Name   string
	Width  int
	Height int
	Format Format
	Path   string
}

// Pipeline validates uploaded images and stores them under the storage root.
// It holds no state between calls.
type Pipeline struct {
	config      Config
	allowed     map[string]bool
	thumbnailer commands.Command
	now         func() time.Time
}

func NewPipeline(config Config) (*Pipeline, error) {
	if config.StorageRoot == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}
	if config.ImageFolder != "" && !IsSanitized(config.ImageFolder) {
		return nil, fmt.Errorf("image folder %q must only contain lower-case letters, digits, dots, dashes and underscores", config.ImageFolder)
	}
	if config.MaxFileSize <= 0 {
		return nil, fmt.Errorf("max file size must be positive, got %d", config.MaxFileSize)
	}
	if config.MinWidth < 0 || config.MinHeight < 0 {
		return nil, fmt.Errorf("minimum dimensions must not be negative, got %dx%d", config.MinWidth, config.MinHeight)
	}
	if len(config.AllowedExtensions) == 0 {
		return nil, fmt.Errorf("at least one allowed extension is required")
	}

	allowed := make(map[string]bool, len(config.AllowedExtensions))
	for _, ext := range config.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	pipeline := &Pipeline{
		config:  config,
		allowed: allowed,
		now:     time.Now,
	}

	if config.ThumbnailEnabled {
		if !IsSanitized(config.ThumbnailFolder) {
			return nil, fmt.Errorf("thumbnail folder %q must only contain lower-case letters, digits, dots, dashes and underscores", config.ThumbnailFolder)
		}
		thumbnailer, err := commands.DefaultRegistry().Create(commands.ThumbnailCommandName, map[string]any{
			"width": config.ThumbnailWidth,
		})
		if err != nil {
			return nil, err
		}
		pipeline.thumbnailer = thumbnailer
	}

	return pipeline, nil
}

// ImageDir is the directory holding stored images.
func (p *Pipeline) ImageDir() string {
	return filepath.Join(p.config.StorageRoot, p.config.ImageFolder)
}

// Path returns where an image with the stored name lives.
func (p *Pipeline) Path(storedName string) string {
	return filepath.Join(p.ImageDir(), storedName)
}

// ThumbnailPath returns where the thumbnail of an image with the stored name lives.
func (p *Pipeline) ThumbnailPath(storedName string) string {
	return filepath.Join(p.ImageDir(), p.config.ThumbnailFolder, storedName)
}

// Exists reports whether an image with the stored name is on disk.
func (p *Pipeline) Exists(storedName string) (bool, error) {
	if !IsSanitized(storedName) {
		return false, common.NewInputError("invalid image name %q", storedName)
	}
	_, err := os.Lstat(p.Path(storedName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, common.NewStorageError(err, "failed to check image %s", storedName)
}

// ValidateAndStore checks the upload and writes it to the image folder.
// The checks run in a fixed order and the first failure is returned:
// format, extension, size, dimensions, name collision.
// An empty upload is not an error; it returns nil, nil.
func (p *Pipeline) ValidateAndStore(ctx context.Context, u *Upload) (*StoredImage, error) {
	if u.IsEmpty() {
		return nil, nil
	}

	data, err := p.read(u)
	if err != nil {
		return nil, err
	}

	info, err := inspect(data)
	if err != nil {
		slog.Info("upload: rejected image", "reason", common.KindInvalidFormat.String(), "name", u.Name, "error", err)
		return nil, &common.Error{Kind: common.KindInvalidFormat, Message: "The image is not a valid image format", Err: err}
	}
	if !info.Format.IsSupported() {
		slog.Info("upload: rejected image", "reason", common.KindInvalidFormat.String(), "name", u.Name, "format", info.Format)
		return nil, &common.Error{Kind: common.KindInvalidFormat, Message: fmt.Sprintf("Images of type %s are not supported, please upload a GIF, JPEG or PNG image", strings.ToUpper(string(info.Format)))}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(u.Name), "."))
	if !p.allowed[ext] {
		slog.Info("upload: rejected image", "reason", common.KindDisallowedExtension.String(), "name", u.Name, "extension", ext)
		return nil, &common.Error{Kind: common.KindDisallowedExtension, Message: fmt.Sprintf("The image is not allowed! Please make sure your image has one of the allowed extensions (%s)", strings.Join(p.config.AllowedExtensions, ", "))}
	}
	name := Sanitize(u.Name)
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return nil, common.NewInputError("The image name %q has no usable characters, please rename the image", u.Name)
	}

	size := u.Size
	if int64(len(data)) > size {
		size = int64(len(data))
	}
	if size > p.config.MaxFileSize {
		slog.Info("upload: rejected image", "reason", common.KindFileTooLarge.String(), "name", u.Name, "size", size, "max_size", p.config.MaxFileSize)
		return nil, &common.Error{
			Kind:    common.KindFileTooLarge,
			Message: fmt.Sprintf("The image is too large to upload, please make sure your image is smaller than %d bytes; your image is %d bytes", p.config.MaxFileSize, size),
			Size:    size,
		}
	}

	if info.Width < p.config.MinWidth || info.Height < p.config.MinHeight {
		slog.Info("upload: rejected image", "reason", common.KindImageTooSmall.String(), "name", u.Name, "width", info.Width, "height", info.Height)
		return nil, &common.Error{
			Kind:    common.KindImageTooSmall,
			Message: fmt.Sprintf("The image dimensions are too small. It must be at least %dpx in width and %dpx in height", p.config.MinWidth, p.config.MinHeight),
			Width:   info.Width,
			Height:  info.Height,
		}
	}

	if p.config.TimestampPrefix {
		name = withTimestampPrefix(name, p.now())
	}
	exists, err := p.Exists(name)
	if err != nil {
		return nil, err
	}
	if exists {
		slog.Info("upload: rejected image", "reason", common.KindDuplicateName.String(), "name", name)
		return nil, duplicateNameError(name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensureDirectories(); err != nil {
		return nil, err
	}

	path := p.Path(name)
	if err := writeExclusive(path, data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			// another submission created the same name after our check
			slog.Warn("upload: lost race for image name", "name", name)
			return nil, duplicateNameError(name)
		}
		return nil, common.NewStorageError(err, "failed to store image %s", name)
	}
	slog.Info("upload: stored image", "name", name, "format", info.Format, "width", info.Width, "height", info.Height, "size", len(data))

	if p.thumbnailer != nil {
		p.storeThumbnail(name, data)
	}

	return &StoredImage{
		Name:   name,
		Width:  info.Width,
		Height: info.Height,
		Format: info.Format,
		Path:   path,
	}, nil
}

// Delete removes the image and its thumbnail. Files that are already gone are
// not an error.
func (p *Pipeline) Delete(ctx context.Context, storedName string) error {
	if !IsSanitized(storedName) {
		return common.NewInputError("invalid image name %q", storedName)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(p.Path(storedName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.NewStorageError(err, "failed to delete image %s", storedName)
	}
	if err := os.Remove(p.ThumbnailPath(storedName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.NewStorageError(err, "failed to delete thumbnail of %s", storedName)
	}
	slog.Info("upload: deleted image", "name", storedName)
	return nil
}

func (p *Pipeline) read(u *Upload) ([]byte, error) {
	src, err := u.Open()
	if err != nil {
		return nil, common.NewStorageError(err, "failed to open uploaded image")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("upload: failed to close uploaded image reader", "error", cerr, "name", u.Name)
		}
	}()

	// one byte past the limit is enough to know the image is too large
	data, err := io.ReadAll(io.LimitReader(src, p.config.MaxFileSize+1))
	if err != nil {
		return nil, common.NewStorageError(err, "failed to read uploaded image")
	}
	return data, nil
}

func (p *Pipeline) ensureDirectories() error {
	dirs := []string{p.ImageDir()}
	if p.thumbnailer != nil {
		dirs = append(dirs, filepath.Join(p.ImageDir(), p.config.ThumbnailFolder))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return common.NewStorageError(err, "failed to create directory %s", dir)
		}
	}
	return nil
}

// storeThumbnail never fails the upload; problems are only logged.
func (p *Pipeline) storeThumbnail(name string, data []byte) {
	thumbnail, err := p.thumbnailer.Execute(data)
	if err != nil {
		slog.Error("upload: failed to create thumbnail", "name", name, "error", err)
		return
	}
	if err := os.WriteFile(p.ThumbnailPath(name), thumbnail, filePermissions); err != nil {
		slog.Error("upload: failed to write thumbnail", "name", name, "error", err)
		return
	}
	slog.Debug("upload: stored thumbnail", "name", name, "size", len(thumbnail))
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func duplicateNameError(name string) *common.Error {
	return &common.Error{
		Kind:    common.KindDuplicateName,
		Message: fmt.Sprintf("An image named %s has already been uploaded, please rename your image and try again", name),
	}
}
