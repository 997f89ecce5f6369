// 版权所有 2024 MeetingFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理：非阻塞启动、信号等待与带排空的优雅关闭。

# 核心类型

  - Manager：封装 net/http.Server。Start 非阻塞监听；Wait 等待信号或服务异常；
    Shutdown 先关闭监听并等待普通请求，再按顺序执行 OnDrain 回调。
    API 服务与 /metrics 服务各用一个 Manager。
  - Config：监听地址、读写超时、空闲超时、最大请求头与关闭超时，零值取默认。

WebSocket 连接被劫持后不再受 http.Server.Shutdown 管理，会议会话通过
OnDrain 回调在同一个关闭超时内结束。
*/
package server
