// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，
为 workflow/store 的 SQL 后端提供 *gorm.DB。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - StatsObserver：健康检查通过后接收连接数的观察者。

# 主要能力

  - 驱动选择：Open 按 config.DatabaseConfig.Driver 选择 postgres、
    mysql 或纯 Go 的 sqlite 方言，GORM 日志经 zap 输出。
  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制。
  - 健康检查：后台定时 PingContext 探活，Close 时停止并等待退出。
*/
package database
