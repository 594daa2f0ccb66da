package models

import (
	"fmt"
	"sort"

	"gorm.io/gorm"
)

/*
Device 设备连接记录
功能：一台矿机的控制面地址、凭据、租户与标签。
ID 由注册方提供且不可变；Password 仅用于登录设备，不在 API 响应中返回。
*/
type Device struct {
	ID       string `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(128);not null;index" json:"name"`
	Host     string `gorm:"type:varchar(255);not null;index" json:"host"`
	Port     int    `gorm:"not null;default:80" json:"port"`
	Username string `gorm:"type:varchar(64);not null" json:"username"`
	Password string `gorm:"type:varchar(255)" json:"password,omitempty"`
	UseTLS   bool   `gorm:"column:use_tls;not null;default:false" json:"useSecureTransport"`
	TenantID string `gorm:"type:varchar(64);index" json:"tenantId,omitempty"`

	/* 标签规范化存储在 device_tags，Tags 为去重排序后的视图 */
	Tags    []string    `gorm:"-" json:"tags"`
	TagRows []DeviceTag `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`

	Timestamps
}

// TableName 表名
func (Device) TableName() string {
	return "devices"
}

/* AfterFind 从 TagRows 还原 Tags */
func (d *Device) AfterFind(tx *gorm.DB) error {
	if len(d.TagRows) == 0 {
		if d.Tags == nil {
			d.Tags = []string{}
		}
		return nil
	}
	tags := make([]string, 0, len(d.TagRows))
	for _, row := range d.TagRows {
		tags = append(tags, row.Tag)
	}
	d.Tags = NormalizeTags(tags)
	return nil
}

/* Address host:port */
func (d *Device) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

/* HasAnyTag 任一标签命中即为 true */
func (d *Device) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range d.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

/*
DeviceTag 设备标签
功能：(device_id, tag) 联合主键，支持跨三种数据库的 IN 查询过滤
*/
type DeviceTag struct {
	DeviceID string `gorm:"type:varchar(64);primaryKey"`
	Tag      string `gorm:"type:varchar(64);primaryKey;index"`
}

// TableName 表名
func (DeviceTag) TableName() string {
	return "device_tags"
}

/* NormalizeTags 去空、去重并排序，nil 输入返回空切片 */
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

/* BuildTagRows 由 Tags 生成关联行 */
func BuildTagRows(deviceID string, tags []string) []DeviceTag {
	rows := make([]DeviceTag, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, DeviceTag{DeviceID: deviceID, Tag: t})
	}
	return rows
}
