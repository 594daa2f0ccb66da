package cache

import "time"

/*
缓存键命名空间
按实体类型 + id 组织，避免不同关注点之间的键冲突：
  - device:{id}          设备记录镜像（无 TTL）
  - device:status:{id}   设备实时状态
  - job:{id}             批量任务
  - fleet:status:all / fleet:status:tenant:{id} 舰队汇总
*/
const (
	PrefixDevice       = "device:"
	PrefixDeviceStatus = "device:status:"
	PrefixJob          = "job:"
	PrefixFleetStatus  = "fleet:status:"
)

/* 默认 TTL，可被配置覆盖 */
const (
	DefaultStatusTTL = 60 * time.Second
	DefaultFleetTTL  = 120 * time.Second
	DefaultJobTTL    = time.Hour
	NoExpiry         = time.Duration(0)
)

func DeviceKey(id string) string {
	return PrefixDevice + id
}

func DeviceStatusKey(id string) string {
	return PrefixDeviceStatus + id
}

func JobKey(id string) string {
	return PrefixJob + id
}

/* FleetStatusKey 空租户表示全舰队 */
func FleetStatusKey(tenantID string) string {
	if tenantID == "" {
		return PrefixFleetStatus + "all"
	}
	return PrefixFleetStatus + "tenant:" + tenantID
}
