package migrations

import "embed"

// Files 按文件名顺序保存组合数据与交易意图的建表脚本。
//
//go:embed *.sql
var Files embed.FS
