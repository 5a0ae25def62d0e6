// Copyright (c) ChatFlow Authors.
// Licensed under the MIT License.

/*
Package structured 提供对话输出的结构化约束。

# 概述

Schema 描述一个期望的输出形状：Describe 返回注入提示词的 JSON Schema 文本，
Parse 将模型的最终文本解析为目标值。解析失败统一返回 *ViolationError，
上层据此决定是否重新生成。

Typed[T] 通过反射从 Go 类型生成 JSON Schema，并在解码前先做 Schema 校验：

	type Verdict struct {
		Label string  `json:"label" jsonschema:"enum=safe|unsafe"`
		Score float64 `json:"score" jsonschema:"minimum=0,maximum=1"`
	}

	schema := structured.MustTyped[Verdict]()
	v, err := structured.ParseAs[Verdict](schema, `{"label":"safe","score":0.9}`)

字段规则：非指针且无 omitempty 的字段为必填；json:"-" 的字段被忽略；
description 标签提供字段说明。
*/
package structured
