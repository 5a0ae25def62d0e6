/*
Package templates 渲染对话模板，产出 types.Message 列表。

# 模板格式

模板使用 text/template 语法，变量缺失时报错（missingkey=error）。

  - .yaml / .yml 文件：顶层 messages 列表，每条消息的 content 单独渲染
  - 其他文件：使用 {{ role "system" }} 标记切分消息；标记之前只允许空白；
    没有任何标记时整个输出作为一条 user 消息

# 模板查找

名称形如 "namespace::file.tmpl" 时在对应命名空间的目录中查找，
否则在默认目录中查找。命名空间可以挂载任意 fs.FS（例如 embed.FS）。

# 值格式化

实现 Formattable 的值以 PromptString() 输出；模板函数 json 将任意值
输出为 4 空格缩进的 JSON。
*/
package templates
