package enums

type PanelFamily string

const (
	PanelFamilyToken  PanelFamily = "token"
	PanelFamilyCookie PanelFamily = "cookie"
)
