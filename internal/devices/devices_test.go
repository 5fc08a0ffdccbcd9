package devices

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zenithcms/sentinel/model"
	"gorm.io/gorm"
)

type memoryDeviceRepository struct {
	mu      sync.Mutex
	devices map[string]*model.Device
}

func newMemoryDeviceRepository() *memoryDeviceRepository {
	return &memoryDeviceRepository{devices: make(map[string]*model.Device)}
}

func key(userID uint, deviceID string) string {
	return fmt.Sprintf("%d|%s", userID, deviceID)
}

func (r *memoryDeviceRepository) Get(ctx context.Context, userID uint, deviceID string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[key(userID, deviceID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *d
	return &clone, nil
}

func (r *memoryDeviceRepository) Create(ctx context.Context, device *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *device
	r.devices[key(device.UserID, device.DeviceID)] = &clone
	return nil
}

func (r *memoryDeviceRepository) List(ctx context.Context, userID uint) ([]*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			clone := *d
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryDeviceRepository) ListActive(ctx context.Context, userID uint) ([]*model.Device, error) {
	all, _ := r.List(ctx, userID)
	var out []*model.Device
	for _, d := range all {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memoryDeviceRepository) Updates(ctx context.Context, userID uint, deviceID string, columns map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[key(userID, deviceID)]
	if !ok {
		return 0, nil
	}
	for col, val := range columns {
		switch col {
		case "login_count":
			d.LoginCount++ // gorm.Expr increment
		case "last_active_at":
			d.LastActiveAt = val.(time.Time)
		case "last_login_at":
			d.LastLoginAt = val.(time.Time)
		case "is_active":
			d.IsActive = val.(bool)
		case "is_trusted":
			d.IsTrusted = val.(bool)
		case "device_name":
			d.DeviceName = val.(string)
		case "device_type":
			d.DeviceType = val.(string)
		case "user_agent":
			d.UserAgent = val.(string)
		case "ip_address":
			d.IPAddress = val.(string)
		}
	}
	return 1, nil
}

func (r *memoryDeviceRepository) Delete(ctx context.Context, userID uint, deviceID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(userID, deviceID)
	if _, ok := r.devices[k]; !ok {
		return 0, nil
	}
	delete(r.devices, k)
	return 1, nil
}

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(chromeUA, "10.0.0.1")
	b := Fingerprint(chromeUA, "10.0.0.1")
	require.Equal(t, a, b)
	require.Len(t, a, 32)

	require.NotEqual(t, a, Fingerprint(chromeUA, "10.0.0.2"))
	require.NotEqual(t, a, Fingerprint("curl/8.0", "10.0.0.1"))
}

func TestUpsertCreatesThenIncrements(t *testing.T) {
	repo := newMemoryDeviceRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	info := DeviceInfo{UserAgent: chromeUA, IP: "10.0.0.1"}
	first, err := registry.Upsert(ctx, 1, info)
	require.NoError(t, err)
	require.EqualValues(t, 1, first.LoginCount)
	require.True(t, first.IsActive)
	require.NotEmpty(t, first.DeviceID)
	require.Contains(t, first.DeviceName, "Chrome")
	require.Equal(t, "desktop", first.DeviceType)

	second, err := registry.Upsert(ctx, 1, info)
	require.NoError(t, err)
	require.Equal(t, first.DeviceID, second.DeviceID)
	require.EqualValues(t, 2, second.LoginCount)
}

func TestUpsertOverwritesSuppliedFields(t *testing.T) {
	repo := newMemoryDeviceRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	_, err := registry.Upsert(ctx, 1, DeviceInfo{DeviceID: "dev-1", UserAgent: chromeUA, IP: "10.0.0.1"})
	require.NoError(t, err)

	updated, err := registry.Upsert(ctx, 1, DeviceInfo{DeviceID: "dev-1", DeviceName: "work laptop", IP: "10.0.0.2"})
	require.NoError(t, err)
	require.Equal(t, "work laptop", updated.DeviceName)
	require.Equal(t, "10.0.0.2", updated.IPAddress)
	// not supplied this time, previous value kept
	require.Equal(t, chromeUA, updated.UserAgent)
}

func TestMutationsReturnFalseWhenMissing(t *testing.T) {
	repo := newMemoryDeviceRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	ok, err := registry.Deactivate(ctx, 1, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = registry.Delete(ctx, 1, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = registry.SetTrusted(ctx, 1, "nope", true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeactivateAndTrust(t *testing.T) {
	repo := newMemoryDeviceRepository()
	registry := NewRegistry(repo)
	ctx := context.Background()

	_, err := registry.Upsert(ctx, 1, DeviceInfo{DeviceID: "dev-1", UserAgent: chromeUA, IP: "10.0.0.1"})
	require.NoError(t, err)

	ok, err := registry.SetTrusted(ctx, 1, "dev-1", true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = registry.Deactivate(ctx, 1, "dev-1")
	require.NoError(t, err)
	require.True(t, ok)

	active, err := registry.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := registry.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].IsTrusted)
}
