package dao

import (
	"errors"

	"minerfleet/plane/internal/db/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* ==================== 设备查询参数 ==================== */

/*
DeviceFilter 设备过滤条件
功能：TenantID 精确匹配；Tags 任一命中；IDs 限定范围。零值表示不过滤
*/
type DeviceFilter struct {
	TenantID string
	Tags     []string
	IDs      []string
}

/* Pagination 分页与排序 */
type Pagination struct {
	Page      int
	Limit     int
	SortBy    string /* name, host, createdAt, updatedAt, id */
	SortOrder string /* asc, desc */
}

/* PageInfo 分页元数据 */
type PageInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

/* sortColumns 允许排序的字段 → 列名 */
var sortColumns = map[string]string{
	"name":      "name",
	"host":      "host",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"id":        "id",
}

/* MaxPageLimit 单页上限 */
const MaxPageLimit = 100

/* NewPageInfo 由总数计算分页元数据 */
func NewPageInfo(page, limit int, total int64) PageInfo {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PageInfo{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

/* ==================== 设备 CRUD ==================== */

/*
CreateDevice 创建设备及其标签
功能：主键冲突返回 gorm.ErrDuplicatedKey
*/
func (d *DAO) CreateDevice(dev *models.Device) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("TagRows").Create(dev).Error; err != nil {
			return err
		}
		return replaceTags(tx, dev.ID, dev.Tags)
	})
}

/*
GetDevice 获取设备
功能：不存在返回 nil, nil
*/
func (d *DAO) GetDevice(id string) (*models.Device, error) {
	var dev models.Device
	if err := d.DB.Preload("TagRows").First(&dev, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dev, nil
}

/* DeviceExists 设备是否存在 */
func (d *DAO) DeviceExists(id string) (bool, error) {
	var count int64
	if err := d.DB.Model(&models.Device{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

/*
ListDevices 按条件分页列出设备
功能：先统计总数再取当前页；同名时按 id 排序保证翻页稳定
*/
func (d *DAO) ListDevices(filter DeviceFilter, p Pagination) ([]models.Device, PageInfo, error) {
	page, limit := SanitizePagination(p.Page, p.Limit, MaxPageLimit)

	column, ok := sortColumns[p.SortBy]
	if !ok {
		column = "name"
	}
	desc := p.SortOrder == "desc"

	var total int64
	if err := d.filtered(filter).Count(&total).Error; err != nil {
		return nil, PageInfo{}, err
	}

	var devices []models.Device
	err := d.filtered(filter).
		Preload("TagRows").
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc}).
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&devices).Error
	if err != nil {
		return nil, PageInfo{}, err
	}

	return devices, NewPageInfo(page, limit, total), nil
}

/*
FindDevices 按条件列出全部设备（不分页）
功能：舰队聚合与批量任务使用
*/
func (d *DAO) FindDevices(filter DeviceFilter) ([]models.Device, error) {
	var devices []models.Device
	err := d.filtered(filter).Preload("TagRows").Order("id").Find(&devices).Error
	return devices, err
}

func (d *DAO) filtered(filter DeviceFilter) *gorm.DB {
	q := d.DB.Model(&models.Device{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if len(filter.Tags) > 0 {
		sub := d.DB.Model(&models.DeviceTag{}).Select("device_id").Where("tag IN ?", filter.Tags)
		q = q.Where("id IN (?)", sub)
	}
	return q
}

/*
UpdateDevice 更新设备字段并替换标签
功能：id 与 created_at 不会被修改；设备不存在返回 gorm.ErrRecordNotFound
*/
func (d *DAO) UpdateDevice(dev *models.Device) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Device{}).Where("id = ?", dev.ID).Updates(map[string]interface{}{
			"name":       dev.Name,
			"host":       dev.Host,
			"port":       dev.Port,
			"username":   dev.Username,
			"password":   dev.Password,
			"use_tls":    dev.UseTLS,
			"tenant_id":  dev.TenantID,
			"updated_at": dev.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return replaceTags(tx, dev.ID, dev.Tags)
	})
}

/*
DeleteDevice 删除设备
功能：返回是否确实删除了记录
*/
func (d *DAO) DeleteDevice(id string) (bool, error) {
	var affected int64
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", id).Delete(&models.DeviceTag{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Device{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected > 0, err
}

/* CountDevices 设备总数 */
func (d *DAO) CountDevices() (int64, error) {
	var count int64
	err := d.DB.Model(&models.Device{}).Count(&count).Error
	return count, err
}

func replaceTags(tx *gorm.DB, deviceID string, tags []string) error {
	if err := tx.Where("device_id = ?", deviceID).Delete(&models.DeviceTag{}).Error; err != nil {
		return err
	}
	rows := models.BuildTagRows(deviceID, tags)
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}
