package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/db/dao"
	"minerfleet/plane/internal/db/models"
	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/pkg/errs"

	"go.uber.org/zap"
)

var (
	deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	hostPattern     = regexp.MustCompile(`^[\w.-]+$`)
)

/* DeviceInput 注册设备参数 */
type DeviceInput struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	UseTLS   bool     `json:"useSecureTransport"`
	TenantID string   `json:"tenantId"`
	Tags     []string `json:"tags"`
}

/* DeviceUpdate 部分更新，nil 字段保持不变 */
type DeviceUpdate struct {
	Name     *string   `json:"name"`
	Host     *string   `json:"host"`
	Port     *int      `json:"port"`
	Username *string   `json:"username"`
	Password *string   `json:"password"`
	UseTLS   *bool     `json:"useSecureTransport"`
	TenantID *string   `json:"tenantId"`
	Tags     *[]string `json:"tags"`
}

/* RegistryDefaults 注册默认值 */
type RegistryDefaults struct {
	Port     int
	Username string
}

/*
RegistryService 设备注册表
功能：
- 设备记录的唯一写入方，持久化在数据库，并在缓存 device:{id} 下做无 TTL 的写穿镜像
- 删除设备时同步断开该地址的会话并清理 device:status:{id}
- 注册、更新、删除都会让 fleet:status:* 汇总失效
- 缓存不可用时只记录告警，不影响注册表本身
*/
type RegistryService struct {
	dao      *dao.DAO
	cache    *cache.Cache
	sessions *device.SessionManager
	defaults RegistryDefaults
	now      func() time.Time
	logger   *zap.Logger
}

func NewRegistryService(d *dao.DAO, c *cache.Cache, sessions *device.SessionManager, defaults RegistryDefaults) *RegistryService {
	if defaults.Port <= 0 {
		defaults.Port = 80
	}
	if defaults.Username == "" {
		defaults.Username = "root"
	}
	return &RegistryService{
		dao:      d,
		cache:    c,
		sessions: sessions,
		defaults: defaults,
		now:      time.Now,
		logger:   zap.L().Named("registry"),
	}
}

/* SetClock 替换时钟（测试用） */
func (s *RegistryService) SetClock(now func() time.Time) {
	s.now = now
}

func validateDevice(id, name, host string, port int) error {
	if !deviceIDPattern.MatchString(id) {
		return errs.Validation("invalid device id %q: use 1-64 letters, digits, '.', '_' or '-'", id)
	}
	if strings.TrimSpace(name) == "" {
		return errs.Validation("device name is required")
	}
	if !hostPattern.MatchString(host) {
		return errs.Validation("invalid host %q", host)
	}
	if port < 1 || port > 65535 {
		return errs.Validation("port %d out of range 1-65535", port)
	}
	return nil
}

/*
Create 注册设备
功能：id 已存在返回 AlreadyExists；端口缺省 80，用户名缺省 root，标签缺省为空集合
*/
func (s *RegistryService) Create(ctx context.Context, in DeviceInput) (*models.Device, error) {
	if in.Port == 0 {
		in.Port = s.defaults.Port
	}
	if in.Username == "" {
		in.Username = s.defaults.Username
	}
	if err := validateDevice(in.ID, in.Name, in.Host, in.Port); err != nil {
		return nil, err
	}

	exists, err := s.dao.DeviceExists(in.ID)
	if err != nil {
		return nil, errs.Internal(err, "check device %s", in.ID)
	}
	if exists {
		return nil, errs.AlreadyExists("device %s already exists", in.ID)
	}

	now := s.now()
	dev := &models.Device{
		ID:       in.ID,
		Name:     strings.TrimSpace(in.Name),
		Host:     in.Host,
		Port:     in.Port,
		Username: in.Username,
		Password: in.Password,
		UseTLS:   in.UseTLS,
		TenantID: in.TenantID,
		Tags:     models.NormalizeTags(in.Tags),
		Timestamps: models.Timestamps{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := s.dao.CreateDevice(dev); err != nil {
		// 并发注册同一 id 时由主键约束兜底
		if again, _ := s.dao.DeviceExists(in.ID); again {
			return nil, errs.AlreadyExists("device %s already exists", in.ID)
		}
		return nil, errs.Internal(err, "create device %s", in.ID)
	}

	s.mirror(ctx, dev)
	s.dropFleet(ctx)
	s.logger.Info("设备已注册",
		zap.String("id", dev.ID),
		zap.String("host", dev.Host),
		zap.Int("port", dev.Port),
		zap.String("tenant", dev.TenantID))
	return dev, nil
}

/*
FindByID 获取设备
功能：优先读取缓存镜像，未命中时查库并回填
*/
func (s *RegistryService) FindByID(ctx context.Context, id string) (*models.Device, error) {
	if s.cache != nil {
		var dev models.Device
		ok, err := s.cache.GetJSON(ctx, cache.DeviceKey(id), &dev)
		if err != nil {
			s.logger.Warn("读取设备镜像失败", zap.String("id", id), zap.Error(err))
		} else if ok {
			if dev.Tags == nil {
				dev.Tags = []string{}
			}
			return &dev, nil
		}
	}

	dev, err := s.dao.GetDevice(id)
	if err != nil {
		return nil, errs.Internal(err, "load device %s", id)
	}
	if dev == nil {
		return nil, errs.NotFound("device %s not found", id)
	}
	s.mirror(ctx, dev)
	return dev, nil
}

/* FindAll 按租户 / 标签过滤并分页 */
func (s *RegistryService) FindAll(ctx context.Context, filter dao.DeviceFilter, p dao.Pagination) ([]models.Device, dao.PageInfo, error) {
	if p.SortOrder != "" && p.SortOrder != "asc" && p.SortOrder != "desc" {
		return nil, dao.PageInfo{}, errs.Validation("sortOrder must be asc or desc")
	}
	devices, info, err := s.dao.ListDevices(filter, p)
	if err != nil {
		return nil, dao.PageInfo{}, errs.Internal(err, "list devices")
	}
	return devices, info, nil
}

/* FindByIDs 返回存在的设备，不存在的 id 被忽略 */
func (s *RegistryService) FindByIDs(ctx context.Context, ids []string) ([]models.Device, error) {
	if len(ids) == 0 {
		return []models.Device{}, nil
	}
	return s.find(dao.DeviceFilter{IDs: ids})
}

/* FindByTenant 空租户返回全部设备 */
func (s *RegistryService) FindByTenant(ctx context.Context, tenantID string) ([]models.Device, error) {
	return s.find(dao.DeviceFilter{TenantID: tenantID})
}

/* FindByTags 任一标签命中 */
func (s *RegistryService) FindByTags(ctx context.Context, tags []string) ([]models.Device, error) {
	if len(tags) == 0 {
		return []models.Device{}, nil
	}
	return s.find(dao.DeviceFilter{Tags: tags})
}

func (s *RegistryService) find(filter dao.DeviceFilter) ([]models.Device, error) {
	devices, err := s.dao.FindDevices(filter)
	if err != nil {
		return nil, errs.Internal(err, "find devices")
	}
	return devices, nil
}

func (s *RegistryService) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.dao.DeviceExists(id)
	if err != nil {
		return false, errs.Internal(err, "check device %s", id)
	}
	return ok, nil
}

func (s *RegistryService) Count(ctx context.Context) (int64, error) {
	n, err := s.dao.CountDevices()
	if err != nil {
		return 0, errs.Internal(err, "count devices")
	}
	return n, nil
}

/*
Update 部分更新
功能：id 与 createdAt 不可变，updatedAt 取当前时间；
连接参数变化时断开旧会话，并清理状态缓存
*/
func (s *RegistryService) Update(ctx context.Context, id string, upd DeviceUpdate) (*models.Device, error) {
	dev, err := s.dao.GetDevice(id)
	if err != nil {
		return nil, errs.Internal(err, "load device %s", id)
	}
	if dev == nil {
		return nil, errs.NotFound("device %s not found", id)
	}
	oldAddr := TargetOf(dev).Address()

	if upd.Name != nil {
		dev.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Host != nil {
		dev.Host = *upd.Host
	}
	if upd.Port != nil {
		dev.Port = *upd.Port
	}
	if upd.Username != nil {
		dev.Username = *upd.Username
	}
	if upd.Password != nil {
		dev.Password = *upd.Password
	}
	if upd.UseTLS != nil {
		dev.UseTLS = *upd.UseTLS
	}
	if upd.TenantID != nil {
		dev.TenantID = *upd.TenantID
	}
	if upd.Tags != nil {
		dev.Tags = models.NormalizeTags(*upd.Tags)
	}
	if err := validateDevice(dev.ID, dev.Name, dev.Host, dev.Port); err != nil {
		return nil, err
	}

	updatedAt := s.now()
	if !updatedAt.After(dev.UpdatedAt) {
		updatedAt = dev.UpdatedAt.Add(time.Millisecond)
	}
	dev.UpdatedAt = updatedAt

	if err := s.dao.UpdateDevice(dev); err != nil {
		return nil, errs.Internal(err, "update device %s", id)
	}

	if s.sessions != nil && (upd.Host != nil || upd.Username != nil || upd.Password != nil || upd.Port != nil || upd.UseTLS != nil) {
		s.sessions.Disconnect(oldAddr)
	}
	s.mirror(ctx, dev)
	s.dropStatus(ctx, id)

	s.logger.Info("设备已更新", zap.String("id", id))
	return dev, nil
}

/*
Delete 删除设备
功能：不存在返回 NotFound；删除后断开会话并清理镜像与状态缓存
*/
func (s *RegistryService) Delete(ctx context.Context, id string) error {
	dev, err := s.dao.GetDevice(id)
	if err != nil {
		return errs.Internal(err, "load device %s", id)
	}
	if dev == nil {
		return errs.NotFound("device %s not found", id)
	}

	deleted, err := s.dao.DeleteDevice(id)
	if err != nil {
		return errs.Internal(err, "delete device %s", id)
	}
	if !deleted {
		return errs.NotFound("device %s not found", id)
	}

	if s.sessions != nil {
		s.sessions.Disconnect(TargetOf(dev).Address())
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.DeviceKey(id)); err != nil {
			s.logger.Warn("删除设备镜像失败", zap.String("id", id), zap.Error(err))
		}
	}
	s.dropStatus(ctx, id)

	s.logger.Info("设备已删除", zap.String("id", id), zap.String("host", dev.Host))
	return nil
}

func (s *RegistryService) mirror(ctx context.Context, dev *models.Device) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cache.DeviceKey(dev.ID), dev, cache.NoExpiry); err != nil {
		s.logger.Warn("写入设备镜像失败", zap.String("id", dev.ID), zap.Error(err))
	}
}

func (s *RegistryService) dropStatus(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.DeviceStatusKey(id)); err != nil {
		s.logger.Warn("清理状态缓存失败", zap.String("id", id), zap.Error(err))
	}
	s.dropFleet(ctx)
}

/* dropFleet 设备集合变化后舰队汇总全部失效 */
func (s *RegistryService) dropFleet(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.DeletePattern(ctx, cache.PrefixFleetStatus); err != nil {
		s.logger.Warn("清理舰队缓存失败", zap.Error(err))
	}
}

/* TargetOf 设备记录 → 连接参数 */
func TargetOf(dev *models.Device) device.Target {
	return device.Target{
		Host:     dev.Host,
		Port:     dev.Port,
		Username: dev.Username,
		Password: dev.Password,
		UseTLS:   dev.UseTLS,
	}
}
