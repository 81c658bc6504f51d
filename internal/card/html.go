package card

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"

	"flexiID/internal/database"
)

// RootSelector 是 HTML 工牌最外层元素的选择器，浏览器渲染器据此截图。
const RootSelector = "#card-root"

var pageTemplate = template.Must(template.New("card").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  html, body { margin: 0; padding: 0; background: transparent; }
  #card-root {
    position: relative; width: 450px; height: 750px; overflow: hidden;
    font-family: Arial, Helvetica, sans-serif;
    {{if .Background}}background: url("{{.Background}}") center / 100% 100% no-repeat;{{else}}background: #fff;{{end}}
  }
  {{if not .Background}}
  .band-top { position: absolute; left: 0; top: 0; width: 450px; height: 120px; background: #0B4B57; }
  .band-bottom { position: absolute; left: 0; bottom: 0; width: 450px; background: #0B4B57; }
  {{end}}
  .photo {
    position: absolute; left: 116.5px; top: 180px; width: 217px; height: 224px;
    border-radius: 30px; overflow: hidden; background: #E5E7EB;
  }
  .photo img { width: 100%; height: 100%; object-fit: cover; display: block; }
  .name {
    position: absolute; left: 24px; right: 24px; top: 440px; text-align: center;
    font-weight: 700; font-size: 44px; line-height: 1.05; color: #0B4B57;
  }
  .designation {
    position: absolute; left: 24px; right: 24px; top: 610px; text-align: center;
    font-weight: 700; font-size: 14px; letter-spacing: 3.5px; color: #0B4B57;
    white-space: nowrap; overflow: hidden; text-overflow: ellipsis;
  }
  .details {
    position: absolute; left: 0; right: 0; bottom: 30px;
    display: flex; flex-direction: column; align-items: center;
  }
  .details .block { display: flex; flex-direction: column; gap: 4px; }
  .details .line { font-size: 12px; line-height: 18px; color: #fff; white-space: nowrap; }
  .back-table { position: absolute; left: 11%; width: 78%; top: 180px; border-collapse: collapse; }
  .back-table td { font-size: 16px; line-height: 24px; padding: 0 0 8px 0; color: #0B4B57; vertical-align: top; }
  .back-table td.label { width: 140px; text-align: right; font-weight: 700; padding-right: 16px; white-space: nowrap; }
  .back-table td.value { overflow-wrap: anywhere; }
</style>
</head>
<body>
<div id="card-root">
{{- if .Front}}
  {{if not .Background}}<div class="band-top"></div><div class="band-bottom" style="top: 640px"></div>{{end}}
  <div class="photo">{{if .Photo}}<img src="{{.Photo}}" alt="">{{end}}</div>
  <div class="name">{{.Front.FirstName}}{{if .Front.LastName}}<br>{{.Front.LastName}}{{end}}</div>
  <div class="designation">{{.Front.Designation}}</div>
  <div class="details"><div class="block">
    {{- range .Front.Details}}
    <div class="line"><strong>{{.Label}}</strong> {{.Value}}</div>
    {{- end}}
  </div></div>
{{- else}}
  {{if not .Background}}<div class="band-top"></div><div class="band-bottom" style="height: 40px"></div>{{end}}
  <table class="back-table">
    {{- range .Back}}
    <tr><td class="label">{{.Label}}</td><td class="value">{{.Value}}</td></tr>
    {{- end}}
  </table>
{{- end}}
</div>
</body>
</html>
`))

type pageData struct {
	Background template.URL
	Photo      template.URL
	Front      *FrontFields
	Back       []Field
}

// dataURI 把图片字节内联为 data URI，内容类型通过嗅探得到。
func dataURI(b []byte) template.URL {
	if len(b) == 0 {
		return ""
	}
	mime := http.DetectContentType(b)
	return template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b))
}

// HTML 生成单面工牌的自包含 HTML 页面。
func HTML(in Input) ([]byte, error) {
	data := pageData{Background: dataURI(in.Template)}
	switch in.Side {
	case SideFront:
		f := Front(in.Employee)
		data.Front = &f
		data.Photo = dataURI(in.Photo)
	case SideBack:
		data.Back = Back(in.Employee)
	default:
		return nil, fmt.Errorf("invalid card side %q", in.Side)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute card template: %w", err)
	}
	return buf.Bytes(), nil
}

// PreviewHTML 是 HTML 的便捷封装，用于预览接口。
func PreviewHTML(emp database.Employee, side Side, tmpl, photo []byte) ([]byte, error) {
	return HTML(Input{Side: side, Employee: emp, Template: tmpl, Photo: photo})
}
