package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"portpilot/internal/config"
	"portpilot/internal/models"
)

/**
 * Store 主机、隧道定义和运行记录的持久层
 * @description
 * - 单文件sqlite库，首次打开时自动建表
 * - 运行记录只增不删，作为隧道的历史审计
 */
type Store struct {
	db *gorm.DB
}

/**
 * Open 打开（必要时创建）sqlite数据库
 * @param {string} path - 数据库文件路径
 * @returns {*Store} 可用的持久层实例
 * @returns {error} 目录创建或建表失败时返回错误
 */
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", path, err)
	}
	if err := db.AutoMigrate(&models.Host{}, &models.Tunnel{}, &models.TunnelRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

/*
 * 主机
 */

func (s *Store) CreateHost(host *models.Host) error {
	host.CreatedAt = time.Now()
	host.UpdatedAt = host.CreatedAt
	return s.db.Create(host).Error
}

func (s *Store) GetHost(id int64) (*models.Host, error) {
	var host models.Host
	if err := s.db.First(&host, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: host %d", config.ErrHostNotFound, id)
		}
		return nil, err
	}
	return &host, nil
}

func (s *Store) ListHosts() ([]*models.Host, error) {
	var hosts []*models.Host
	if err := s.db.Order("id").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

func (s *Store) UpdateHost(host *models.Host) error {
	if _, err := s.GetHost(host.ID); err != nil {
		return err
	}
	host.UpdatedAt = time.Now()
	return s.db.Save(host).Error
}

// DeleteHost 删除主机及其名下的所有隧道定义
func (s *Store) DeleteHost(id int64) error {
	if _, err := s.GetHost(id); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("host_id = ?", id).Delete(&models.Tunnel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Host{}, id).Error
	})
}

/*
 * 隧道
 */

func (s *Store) CreateTunnel(tunnel *models.Tunnel) error {
	if _, err := s.GetHost(tunnel.HostID); err != nil {
		return err
	}
	tunnel.CreatedAt = time.Now()
	tunnel.UpdatedAt = tunnel.CreatedAt
	return s.db.Create(tunnel).Error
}

func (s *Store) GetTunnel(id int64) (*models.Tunnel, error) {
	var tunnel models.Tunnel
	if err := s.db.First(&tunnel, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tunnel %d", config.ErrTunnelNotFound, id)
		}
		return nil, err
	}
	return &tunnel, nil
}

func (s *Store) ListTunnels() ([]*models.Tunnel, error) {
	var tunnels []*models.Tunnel
	if err := s.db.Order("id").Find(&tunnels).Error; err != nil {
		return nil, err
	}
	return tunnels, nil
}

func (s *Store) ListTunnelsByHost(hostID int64) ([]*models.Tunnel, error) {
	var tunnels []*models.Tunnel
	if err := s.db.Where("host_id = ?", hostID).Order("id").Find(&tunnels).Error; err != nil {
		return nil, err
	}
	return tunnels, nil
}

func (s *Store) UpdateTunnel(tunnel *models.Tunnel) error {
	if _, err := s.GetTunnel(tunnel.ID); err != nil {
		return err
	}
	tunnel.UpdatedAt = time.Now()
	return s.db.Save(tunnel).Error
}

func (s *Store) DeleteTunnel(id int64) error {
	if _, err := s.GetTunnel(id); err != nil {
		return err
	}
	return s.db.Delete(&models.Tunnel{}, id).Error
}

/*
 * 运行记录
 */

func (s *Store) CreateRun(run *models.TunnelRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.db.Create(run).Error
}

/**
 * FinishRun 补记一次运行的结束信息
 * @param {int64} id - 运行记录ID
 * @param {*int} exitCode - 退出码，取不到时传nil
 * @param {string} lastError - 失败原因，正常结束传空串
 */
func (s *Store) FinishRun(id int64, exitCode *int, lastError string) error {
	now := time.Now()
	return s.db.Model(&models.TunnelRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"stopped_at": &now,
		"exit_code":  exitCode,
		"last_error": lastError,
	}).Error
}

func (s *Store) LatestRun(tunnelID int64) (*models.TunnelRun, error) {
	var run models.TunnelRun
	err := s.db.Where("tunnel_id = ?", tunnelID).Order("id desc").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListRuns(tunnelID int64, limit int) ([]*models.TunnelRun, error) {
	var runs []*models.TunnelRun
	q := s.db.Where("tunnel_id = ?", tunnelID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// OpenDetachedRuns 列出还没有记录结束时间的后台运行，供守护进程启动时认领
func (s *Store) OpenDetachedRuns() ([]*models.TunnelRun, error) {
	var runs []*models.TunnelRun
	err := s.db.Where("mode = ? AND stopped_at IS NULL", models.RunModeDetached).
		Order("id").Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
