package services

import (
	"fmt"
	"sort"
	"sync"

	"portpilot/internal/config"
	"portpilot/internal/logger"
	"portpilot/internal/models"
	"portpilot/internal/store"
	"portpilot/internal/utils"
)

/**
 * Supervisor 全部隧道实例的注册表和批量操作入口
 * @property {map} tunnels - 隧道ID到运行时实例的映射
 * @property {*EventBus} events - 状态变化事件总线
 * @description
 * - 每条隧道定义对应一个常驻的TunnelInstance，portpilot运行期间不销毁
 * - 批量操作并发执行且互相独立，单条失败不中断其他隧道
 * - 退出时按隧道的background标志决定放走还是停止
 */
type Supervisor struct {
	store  *store.Store
	cfg    *config.AppConfig
	events *EventBus

	mutex   sync.RWMutex
	tunnels map[int64]*TunnelInstance
}

/**
 * Create supervisor and load tunnel definitions from the database
 * @param {*store.Store} st - Persistence layer
 * @param {*config.AppConfig} cfg - Application configuration
 * @returns {*Supervisor} Ready supervisor with one instance per tunnel
 * @returns {error} Error when definitions cannot be loaded
 * @description
 * - Also reconciles leftover detached runs: records whose PID is gone
 *   get their stop time backfilled
 */
func NewSupervisor(st *store.Store, cfg *config.AppConfig) (*Supervisor, error) {
	sv := &Supervisor{
		store:   st,
		cfg:     cfg,
		events:  NewEventBus(),
		tunnels: make(map[int64]*TunnelInstance),
	}

	defs, err := st.ListTunnels()
	if err != nil {
		return nil, fmt.Errorf("failed to load tunnel definitions: %w", err)
	}
	for _, def := range defs {
		sv.tunnels[def.ID] = newTunnelInstance(def, st, cfg, sv.events.Publish)
	}

	sv.reconcileDetachedRuns()
	return sv, nil
}

// Events 状态事件总线
func (sv *Supervisor) Events() *EventBus {
	return sv.events
}

/**
 * reconcileDetachedRuns 清理上次退出时放走的后台进程留下的记录
 * @description
 * - PID已经消失或者被别的程序复用的记录补上结束时间
 * - 还活着的ssh进程留给用户，portpilot不接管也不杀
 */
func (sv *Supervisor) reconcileDetachedRuns() {
	runs, err := sv.store.OpenDetachedRuns()
	if err != nil {
		logger.Warnf("Failed to load detached runs: %v", err)
		return
	}
	procName := utils.Path2ProcessName(sv.cfg.SSH.Binary)
	for _, run := range runs {
		if _, err := utils.FindProcess(procName, run.Pid); err == nil {
			logger.Infof("Detached tunnel run %d still alive (PID: %d), leaving it alone",
				run.ID, run.Pid)
			continue
		}
		if err := sv.store.FinishRun(run.ID, nil, ""); err != nil {
			logger.Warnf("Failed to close stale run %d: %v", run.ID, err)
		} else {
			logger.Infof("Closed stale detached run %d (PID %d is gone)", run.ID, run.Pid)
		}
	}
}

// Get 按ID取隧道实例
func (sv *Supervisor) Get(id int64) (*TunnelInstance, error) {
	sv.mutex.RLock()
	defer sv.mutex.RUnlock()
	ti, ok := sv.tunnels[id]
	if !ok {
		return nil, fmt.Errorf("%w: tunnel %d", config.ErrTunnelNotFound, id)
	}
	return ti, nil
}

// List 全部隧道的详情，按ID排序
func (sv *Supervisor) List() []models.TunnelDetail {
	sv.mutex.RLock()
	instances := make([]*TunnelInstance, 0, len(sv.tunnels))
	for _, ti := range sv.tunnels {
		instances = append(instances, ti)
	}
	sv.mutex.RUnlock()

	sort.Slice(instances, func(i, j int) bool { return instances[i].ID() < instances[j].ID() })
	details := make([]models.TunnelDetail, 0, len(instances))
	for _, ti := range instances {
		details = append(details, ti.Detail())
	}
	return details
}

/*
 * 定义变更：增删隧道时同步维护运行时实例
 */

// AddTunnel 持久化新隧道并注册运行时实例
func (sv *Supervisor) AddTunnel(def *models.Tunnel) error {
	if err := sv.store.CreateTunnel(def); err != nil {
		return err
	}
	sv.mutex.Lock()
	sv.tunnels[def.ID] = newTunnelInstance(def, sv.store, sv.cfg, sv.events.Publish)
	sv.mutex.Unlock()
	return nil
}

// UpdateTunnel 更新定义，运行中的进程不受影响，下次启动生效
func (sv *Supervisor) UpdateTunnel(def *models.Tunnel) error {
	if _, err := sv.Get(def.ID); err != nil {
		return err
	}
	return sv.store.UpdateTunnel(def)
}

// RemoveTunnel 先停掉再删除定义
func (sv *Supervisor) RemoveTunnel(id int64) error {
	ti, err := sv.Get(id)
	if err != nil {
		return err
	}
	if err := ti.Stop(); err != nil {
		return err
	}
	if err := sv.store.DeleteTunnel(id); err != nil {
		return err
	}
	sv.mutex.Lock()
	delete(sv.tunnels, id)
	sv.mutex.Unlock()
	return nil
}

/**
 * StopDetached 停掉库里记录的脱管进程
 * @param {int64} id - 隧道ID
 * @returns {int} 被停掉的进程数量
 * @description
 * - CLI本地模式使用：没有守护进程时按运行记录里的PID收拾残局
 * - PID已被其他程序复用时不杀，只关闭记录
 */
func (sv *Supervisor) StopDetached(id int64) (int, error) {
	runs, err := sv.store.OpenDetachedRuns()
	if err != nil {
		return 0, err
	}

	procName := utils.Path2ProcessName(sv.cfg.SSH.Binary)
	stopped := 0
	for _, run := range runs {
		if run.TunnelID != id {
			continue
		}
		if err := utils.KillProcess(procName, run.Pid); err != nil {
			logger.Warnf("Detached run %d (PID: %d) not killed: %v", run.ID, run.Pid, err)
		} else {
			stopped++
		}
		if err := sv.store.FinishRun(run.ID, nil, ""); err != nil {
			logger.Warnf("Failed to close run %d: %v", run.ID, err)
		}
	}
	return stopped, nil
}

/*
 * 批量操作
 */

type tunnelOp func(*TunnelInstance) error

func (sv *Supervisor) bulk(op tunnelOp, opName string) []models.BulkResult {
	sv.mutex.RLock()
	instances := make([]*TunnelInstance, 0, len(sv.tunnels))
	for _, ti := range sv.tunnels {
		instances = append(instances, ti)
	}
	sv.mutex.RUnlock()
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID() < instances[j].ID() })

	results := make([]models.BulkResult, len(instances))
	var wg sync.WaitGroup
	for i, ti := range instances {
		wg.Add(1)
		go func(i int, ti *TunnelInstance) {
			defer wg.Done()
			err := op(ti)
			res := models.BulkResult{
				TunnelID: ti.ID(),
				State:    ti.State(),
				Success:  err == nil,
			}
			if err != nil {
				res.Error = err.Error()
				logger.Warnf("Bulk %s: tunnel %d failed: %v", opName, ti.ID(), err)
			}
			results[i] = res
		}(i, ti)
	}
	wg.Wait()
	return results
}

/**
 * StartAll 并发启动全部隧道
 * @returns {[]models.BulkResult} 每条隧道一条结果，部分失败是正常结局
 */
func (sv *Supervisor) StartAll() []models.BulkResult {
	return sv.bulk((*TunnelInstance).Start, "start")
}

// StopAll 并发停止全部隧道
func (sv *Supervisor) StopAll() []models.BulkResult {
	return sv.bulk((*TunnelInstance).Stop, "stop")
}

/**
 * Shutdown 守护进程退出时的收尾
 * @description
 * - background隧道放走：进程留在独立进程组里继续转发
 * - 其余隧道正常停止，走SIGTERM加宽限的流程
 * - 返回时所有托管进程都已处理完毕
 */
func (sv *Supervisor) Shutdown() {
	sv.mutex.RLock()
	instances := make([]*TunnelInstance, 0, len(sv.tunnels))
	for _, ti := range sv.tunnels {
		instances = append(instances, ti)
	}
	sv.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, ti := range instances {
		wg.Add(1)
		go func(ti *TunnelInstance) {
			defer wg.Done()
			if pid := ti.DetachForShutdown(); pid != 0 {
				logger.Infof("Tunnel %d left running in background (PID: %d)", ti.ID(), pid)
				return
			}
			if err := ti.Stop(); err != nil {
				logger.Errorf("Failed to stop tunnel %d during shutdown: %v", ti.ID(), err)
			}
		}(ti)
	}
	wg.Wait()
	logger.Info("All tunnels handled, supervisor shut down")
}
