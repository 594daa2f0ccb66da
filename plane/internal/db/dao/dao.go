package dao

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/*
DAO GORM 数据访问对象
功能：设备注册表的全部持久化操作，服务层通过它访问数据库
*/
type DAO struct {
	DB     *gorm.DB
	logger *zap.Logger
}

/*
New 创建 DAO 实例
*/
func New(db *gorm.DB) *DAO {
	return &DAO{
		DB:     db,
		logger: zap.L().Named("dao"),
	}
}

/*
SanitizePagination 校正分页参数
功能：page 最小为 1；limit 范围 [1, maxLimit]，为 0 时取默认值 20
*/
func SanitizePagination(page, limit, maxLimit int) (int, int) {
	if maxLimit <= 0 {
		maxLimit = 100
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	} else if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

/*
Transaction 在事务中执行多个数据库操作
功能：fn 返回 nil 时提交，否则回滚；fn 内的 txDAO 共享同一事务
*/
func (d *DAO) Transaction(fn func(txDAO *DAO) error) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		return fn(&DAO{DB: tx, logger: d.logger})
	})
}
