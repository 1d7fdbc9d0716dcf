package news

import "linepress/pkg/logx"

func testLogger() logx.Logger { return logx.Nop() }
