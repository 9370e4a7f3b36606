// Package domain 业务模块的装配契约与处理器共用逻辑
package domain

import (
	"github.com/robfig/cron/v3"

	httpx "hayatos/http"
	"hayatos/messaging"
)

// IModule 业务模块的最小契约：提供路由
type IModule interface {
	httpx.IRouteRegistrar
}

// IWorkerModule 消费队列消息的模块。
//
// 同一消息类型只能有一个处理器，处理器必须幂等：
// 队列语义为至少一次投递。
type IWorkerModule interface {
	IModule
	RegisterWorkers(t messaging.Transport) error
}

// Scheduler 定时任务注册，*cron.Cron 满足该接口
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
}

// IScheduledModule 带定时任务的模块
type IScheduledModule interface {
	IModule
	RegisterSchedules(s Scheduler) error
}
