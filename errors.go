package nio

import "errors"

// ErrDisconnected 表示连接已离开 Connected 状态，发送被拒绝。
// Send 在断开或关闭中的连接上调用时返回该错误。
var ErrDisconnected = errors.New("nio: connection disconnected")
