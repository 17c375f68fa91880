// Package curriculum 维护固定的课程大纲（单元 -> 主题列表）。
// 大纲只用于填充选择菜单和校验请求，运行期不可变。
package curriculum

import (
	"sort"

	"cdef-ta-go/internal/config"
)

// Curriculum 是单元名到主题列表的只读映射。
type Curriculum struct {
	units map[string][]string
	order []string
}

// 内置大纲：云计算课程的四个单元。
var defaultUnits = map[string][]string{
	"Unit I": {
		"Introduction to Cloud Computing",
		"Definition, Characteristics, Components",
		"Cloud Service provider",
		"Software As a Service (SAAS)",
		"Platform As a Service (PAAS)",
		"Infrastructure as a Service (IAAS)",
		"Load balancing and Resource optimization",
		"Comparison among Cloud computing platforms: Amazon EC2, Google App Engine, Microsoft Azure, Meghraj",
	},
	"Unit II": {
		"Introduction to Cloud Technologies",
		"Study of Hypervisors",
		"SOAP and REST",
		"Webservices and Mashups",
		"Virtual machine technology",
		"Virtualization applications in enterprises",
		"Pitfalls of virtualization",
		"Multi-entity support",
		"Multi-schema approach",
		"Multi-tenancy using cloud data stores",
	},
	"Unit III": {
		"Cloud security fundamentals",
		"Vulnerability assessment tool for cloud",
		"Privacy and Security in cloud",
		"Cloud computing security architecture",
		"Issues in cloud computing",
		"Intercloud environments",
		"QoS Issues in Cloud",
		"Streaming in Cloud",
		"Quality of Service (QoS) monitoring",
		"Inter Cloud issues",
	},
	"Unit IV": {
		"MICEF Computing (Mist, IOT, Cloud, Edge and FOG Computing)",
		"Dew Computing: Concept and Application",
		"Case Study: MiCEF Computing Programs using CloudSim and iFogSim",
	},
}

var defaultOrder = []string{"Unit I", "Unit II", "Unit III", "Unit IV"}

// Load 根据配置构建大纲实例，配置为空时使用内置大纲。
func Load(cfg config.CurriculumConfig) *Curriculum {
	units := cfg.Units
	order := cfg.UnitOrder
	if len(units) == 0 {
		units = defaultUnits
		order = defaultOrder
	}
	if len(order) == 0 {
		// 未配置顺序时按名称排序，保证输出稳定
		order = make([]string, 0, len(units))
		for name := range units {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	copied := make(map[string][]string, len(units))
	for name, topics := range units {
		copied[name] = append([]string(nil), topics...)
	}
	return &Curriculum{units: copied, order: append([]string(nil), order...)}
}

// Units 返回按固定顺序排列的单元名列表。
func (c *Curriculum) Units() []string {
	return append([]string(nil), c.order...)
}

// Topics 返回某单元的主题列表，单元不存在时 ok 为 false。
func (c *Curriculum) Topics(unit string) ([]string, bool) {
	topics, ok := c.units[unit]
	if !ok {
		return nil, false
	}
	return append([]string(nil), topics...), true
}

// HasTopic 校验主题是否属于某单元。
func (c *Curriculum) HasTopic(unit, topic string) bool {
	topics, ok := c.units[unit]
	if !ok {
		return false
	}
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}
