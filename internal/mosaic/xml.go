package mosaic

import "encoding/xml"

func xmlName(local string) xml.Name { return xml.Name{Local: local} }
