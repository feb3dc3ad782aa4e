package service

import "github.com/cydxin/chatsync-sdk/rest"

// Service 各业务 service 的公共依赖，由 Engine 注入。
type Service struct {
	API *rest.Client

	// PageSize 历史分页默认页大小
	PageSize int
}
