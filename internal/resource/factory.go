package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/starford/filedesk/internal/apperr"
	"github.com/starford/filedesk/internal/catalog"
	"github.com/starford/filedesk/internal/storage"
	"github.com/starford/filedesk/internal/storage/gdrive"
	"github.com/starford/filedesk/internal/storage/kv"
	"github.com/starford/filedesk/internal/storage/s3"
)

// Config describes one storage.
type Config struct {
	UID      int
	Name     string
	Driver   string
	Writable bool
	Options  map[string]any
}

// Opener builds a driver from its decoded options.
type Opener func(ctx context.Context, options map[string]any, logger *slog.Logger) (storage.Driver, error)

// Drivers lists the driver names a Config may use.
var Drivers = map[string]Opener{
	"local":  openLocal,
	"memory": openMemory,
	"kv":     openKV,
	"s3":     openS3,
	"gdrive": openGDrive,
}

// decode copies options into out; strings such as "true" coming from
// environment expansion are converted to the field type.
func decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}
	return nil
}

// LocalOptions configures a "local" storage.
type LocalOptions struct {
	BasePath string `mapstructure:"base_path"`
}

func openLocal(_ context.Context, options map[string]any, _ *slog.Logger) (storage.Driver, error) {
	var opts LocalOptions
	if err := decode(options, &opts); err != nil {
		return nil, err
	}
	if opts.BasePath == "" {
		return nil, fmt.Errorf("local: base_path is required: %w", apperr.ErrInvalidArgument)
	}
	if err := os.MkdirAll(opts.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("local: create base_path: %w", err)
	}
	return storage.NewFS(opts.BasePath)
}

func openMemory(_ context.Context, options map[string]any, _ *slog.Logger) (storage.Driver, error) {
	if err := decode(options, &struct{}{}); err != nil {
		return nil, err
	}
	return storage.NewMemory(), nil
}

func openKV(_ context.Context, options map[string]any, logger *slog.Logger) (storage.Driver, error) {
	var opts kv.Options
	if err := decode(options, &opts); err != nil {
		return nil, err
	}
	return kv.Open(opts, logger)
}

func openS3(ctx context.Context, options map[string]any, _ *slog.Logger) (storage.Driver, error) {
	var opts s3.Options
	if err := decode(options, &opts); err != nil {
		return nil, err
	}
	client, err := s3.NewClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s3.New(client, opts.Bucket, opts.KeyPrefix).WithPartSize(opts.PartSize), nil
}

func openGDrive(ctx context.Context, options map[string]any, _ *slog.Logger) (storage.Driver, error) {
	var opts gdrive.Options
	if err := decode(options, &opts); err != nil {
		return nil, err
	}
	svc, err := gdrive.NewService(ctx, opts)
	if err != nil {
		return nil, err
	}
	return gdrive.New(svc, opts.RootFolderID)
}

// Factory holds every configured storage by uid.
type Factory struct {
	catalog  catalog.Catalog
	storages map[int]*Storage
	closers  []io.Closer
}

// NewFactory opens a driver per config entry. On error every driver opened
// so far is closed again.
func NewFactory(ctx context.Context, cfgs []Config, cat catalog.Catalog, logger *slog.Logger) (*Factory, error) {
	f := &Factory{catalog: cat, storages: make(map[int]*Storage, len(cfgs))}
	for _, c := range cfgs {
		open, ok := Drivers[c.Driver]
		if !ok {
			f.Close()
			return nil, fmt.Errorf("resource: storage %d: unknown driver %q: %w", c.UID, c.Driver, apperr.ErrInvalidArgument)
		}
		driver, err := open(ctx, c.Options, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("resource: storage %d (%s): %w", c.UID, c.Driver, err)
		}
		if err := f.Register(NewStorage(c.UID, c.Name, c.Writable, driver, cat, logger)); err != nil {
			if cl, ok := driver.(io.Closer); ok {
				cl.Close()
			}
			f.Close()
			return nil, err
		}
		logger.Info("resource: storage ready",
			slog.Int("storage", c.UID),
			slog.String("name", c.Name),
			slog.String("driver", c.Driver),
			slog.Bool("writable", c.Writable))
	}
	return f, nil
}

// Register adds s to the factory; its driver is closed with the factory
// when it implements io.Closer.
func (f *Factory) Register(s *Storage) error {
	if f.storages == nil {
		f.storages = make(map[int]*Storage)
	}
	if _, dup := f.storages[s.uid]; dup {
		return fmt.Errorf("resource: duplicate storage uid %d: %w", s.uid, apperr.ErrInvalidArgument)
	}
	f.storages[s.uid] = s
	if cl, ok := s.driver.(io.Closer); ok {
		f.closers = append(f.closers, cl)
	}
	return nil
}

// Catalog returns the catalog shared by all storages.
func (f *Factory) Catalog() catalog.Catalog {
	return f.catalog
}

// Storage returns the storage with uid.
func (f *Factory) Storage(uid int) (*Storage, error) {
	s, ok := f.storages[uid]
	if !ok {
		return nil, fmt.Errorf("resource: storage %d: %w", uid, apperr.ErrStorageNotFound)
	}
	return s, nil
}

// Storages returns all storages ordered by uid.
func (f *Factory) Storages() []*Storage {
	out := make([]*Storage, 0, len(f.storages))
	for _, s := range f.storages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}

// File looks a file up in the catalog and returns it with its storage.
func (f *Factory) File(uid int64) (*catalog.FileRow, *Storage, error) {
	row, err := f.catalog.GetFile(uid)
	if err != nil {
		return nil, nil, err
	}
	s, err := f.Storage(row.StorageUID)
	if err != nil {
		return nil, nil, fmt.Errorf("resource: file %d: %w", uid, err)
	}
	return row, s, nil
}

// Close closes every driver that holds resources.
func (f *Factory) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}
