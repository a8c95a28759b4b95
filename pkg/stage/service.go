package stage

import (
	"bytes"
	"sort"

	"github.com/arthur-debert/keg/pkg/types"
	"github.com/beevik/etree"
)

const plistDoctype = `DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd"`

// ServiceFileName is the descriptor's file name inside the prefix.
func ServiceFileName(svc *types.ServiceSpec) string {
	return svc.Label + ".plist"
}

// RenderService renders a launchd-style property list for svc. Program,
// working directory, log path and environment values go through expand.
// Keys are written in sorted order so the output is stable.
func RenderService(svc *types.ServiceSpec, expand func(string) string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateDirective(plistDoctype)
	plist := doc.CreateElement("plist")
	plist.CreateAttr("version", "1.0")
	dict := plist.CreateElement("dict")

	if len(svc.Environment) > 0 {
		addKey(dict, "EnvironmentVariables")
		env := dict.CreateElement("dict")
		keys := make([]string, 0, len(svc.Environment))
		for k := range svc.Environment {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			addKey(env, k)
			env.CreateElement("string").SetText(expand(svc.Environment[k]))
		}
	}
	if svc.KeepAlive {
		addKey(dict, "KeepAlive")
		dict.CreateElement("true")
	}
	addKey(dict, "Label")
	dict.CreateElement("string").SetText(svc.Label)

	addKey(dict, "ProgramArguments")
	args := dict.CreateElement("array")
	for _, arg := range svc.Program {
		args.CreateElement("string").SetText(expand(arg))
	}
	if svc.RunAtLoad {
		addKey(dict, "RunAtLoad")
		dict.CreateElement("true")
	}
	if svc.LogPath != "" {
		logPath := expand(svc.LogPath)
		addKey(dict, "StandardErrorPath")
		dict.CreateElement("string").SetText(logPath)
		addKey(dict, "StandardOutPath")
		dict.CreateElement("string").SetText(logPath)
	}
	if svc.WorkingDir != "" {
		addKey(dict, "WorkingDirectory")
		dict.CreateElement("string").SetText(expand(svc.WorkingDir))
	}

	doc.Indent(2)
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addKey(dict *etree.Element, name string) {
	dict.CreateElement("key").SetText(name)
}
