package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"productstream/internal/service/productstream/domain"
)

const mysqlDuplicateEntry = 1062

// GormStreamRepository 是 StreamRepository 的 GORM 实现
type GormStreamRepository struct {
	db *gorm.DB
}

// NewGormStreamRepository 创建一个新的 GORM 仓储实例
func NewGormStreamRepository(db *gorm.DB) *GormStreamRepository {
	return &GormStreamRepository{db: db}
}

// OpenMySQL 解析 DSN 并建立 GORM 连接。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	cfg, err := mysqlConfig(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(mysqldriver.Open(cfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open mysql %s@%s/%s", cfg.User, cfg.Addr, cfg.DBName)
	}
	return db, nil
}

// mysqlConfig 强制开启 parseTime 和 clientFoundRows。
// 后者让 UPDATE 返回匹配行数而不是变更行数，Save 才能用 RowsAffected 判断记录是否存在。
func mysqlConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg, nil
}

// Migrate 创建或更新表结构
func (r *GormStreamRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ProductStreamModel{})
}

// FindByID 使用 GORM 从数据库中查找商品流
func (r *GormStreamRepository) FindByID(ctx context.Context, id int64) (*domain.ProductStream, error) {
	var model ProductStreamModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrStreamNotFound
		}
		return nil, pkgerrors.Wrapf(err, "find product stream %d", id)
	}
	return ToDomainStream(&model)
}

// Save 新建或整体更新一个商品流
func (r *GormStreamRepository) Save(ctx context.Context, stream *domain.ProductStream) error {
	model, err := FromDomainStream(stream)
	if err != nil {
		return err
	}

	db := r.db.WithContext(ctx)
	if model.ID == 0 {
		err = db.Create(model).Error
	} else {
		res := db.Model(&ProductStreamModel{}).Where("id = ?", model.ID).Updates(map[string]interface{}{
			"name":        model.Name,
			"description": model.Description,
			"conditions":  model.Conditions,
			"updated_at":  time.Now(),
		})
		err = res.Error
		if err == nil && res.RowsAffected == 0 {
			return domain.ErrStreamNotFound
		}
	}
	if err != nil {
		if isDuplicateEntry(err) {
			return domain.ErrStreamNameTaken
		}
		return pkgerrors.Wrapf(err, "save product stream %q", stream.Name)
	}

	stream.StreamID = model.ID
	if stream.CreatedAt.IsZero() {
		stream.CreatedAt = model.CreatedAt
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
