// Package shared 提供可克隆的共享双工流
//
// Wrap 接管一个 io.ReadWriter，返回的 *Stream 可通过 Clone 复制出多个句柄，
// 所有句柄指向同一份受互斥锁保护的存储。Read / Write / Flush 在任意句柄上
// 都是串行执行的，底层流永远只在持锁时被访问。
//
// 持锁期间底层操作 panic 会使存储进入中毒状态：panic 照常向上传播，
// 之后任意句柄上的 Read / Write / Flush 都会记录错误日志并返回
// coreerrors.ErrBrokenPipe（同时匹配 syscall.EPIPE），调用方应拆除连接重建，
// 而不是重试。
//
// 每个句柄都需要 Close。最后一个句柄关闭时，若底层流实现了 io.Closer，
// 则恰好关闭一次。
package shared
