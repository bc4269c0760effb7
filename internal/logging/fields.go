package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// PackageFields 提供包名、版本与入口来源字段，供分发与缓存日志复用。
func PackageFields(name, version, source string) logrus.Fields {
	return logrus.Fields{
		"package": name,
		"version": version,
		"source":  source,
	}
}
