package store

import (
	"context"
	"time"

	"github.com/cryptblk/cryptblk/pkg/controlplane/models"
)

// ============================================
// DEVICE OPERATIONS
// ============================================

func (s *GORMStore) GetDevice(ctx context.Context, name string) (*models.Device, error) {
	return getByField[models.Device](s.db, ctx, "name", name, models.ErrDeviceNotFound)
}

func (s *GORMStore) GetDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	return getByField[models.Device](s.db, ctx, "id", id, models.ErrDeviceNotFound)
}

func (s *GORMStore) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return listAll[models.Device](s.db, ctx, "name")
}

func (s *GORMStore) CreateDevice(ctx context.Context, device *models.Device) (string, error) {
	if err := device.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	return createWithID(s.db, ctx, device, func(d *models.Device, id string) { d.ID = id }, device.ID, models.ErrDuplicateDevice)
}

func (s *GORMStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	if err := device.Validate(); err != nil {
		return err
	}

	var existing models.Device
	if err := s.db.WithContext(ctx).Where("id = ?", device.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrDeviceNotFound)
	}

	device.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Name", "Backend", "BackendConfig", "Cipher", "IVMode", "Features",
			"StartSector", "Sectors", "IVOffset", "KDFSalt", "KDFTime", "KDFMemoryKiB",
			"KDFThreads", "PassphraseEnv", "KeyFile", "Enabled", "UpdatedAt").
		Updates(device).Error
}

func (s *GORMStore) DeleteDevice(ctx context.Context, name string) error {
	return deleteByField[models.Device](s.db, ctx, "name", name, models.ErrDeviceNotFound)
}
