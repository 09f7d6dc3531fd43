package sparkplug

import "fmt"

// DataType is the Sparkplug B metric datatype tag carried on the wire.
type DataType uint32

// Sparkplug B datatypes. Array types (22 and up) carry their elements packed
// into bytes_value.
const (
	TypeUnknown         DataType = 0
	TypeInt8            DataType = 1
	TypeInt16           DataType = 2
	TypeInt32           DataType = 3
	TypeInt64           DataType = 4
	TypeUInt8           DataType = 5
	TypeUInt16          DataType = 6
	TypeUInt32          DataType = 7
	TypeUInt64          DataType = 8
	TypeFloat           DataType = 9
	TypeDouble          DataType = 10
	TypeBoolean         DataType = 11
	TypeString          DataType = 12
	TypeDateTime        DataType = 13
	TypeText            DataType = 14
	TypeUUID            DataType = 15
	TypeDataSet         DataType = 16
	TypeBytes           DataType = 17
	TypeFile            DataType = 18
	TypeTemplate        DataType = 19
	TypePropertySet     DataType = 20
	TypePropertySetList DataType = 21
	TypeInt8Array       DataType = 22
	TypeInt16Array      DataType = 23
	TypeInt32Array      DataType = 24
	TypeInt64Array      DataType = 25
	TypeUInt8Array      DataType = 26
	TypeUInt16Array     DataType = 27
	TypeUInt32Array     DataType = 28
	TypeUInt64Array     DataType = 29
	TypeFloatArray      DataType = 30
	TypeDoubleArray     DataType = 31
	TypeBooleanArray    DataType = 32
	TypeStringArray     DataType = 33
	TypeDateTimeArray   DataType = 34

	maxDataType = TypeDateTimeArray
)

var dataTypeNames = [...]string{
	"Unknown", "Int8", "Int16", "Int32", "Int64", "UInt8", "UInt16", "UInt32", "UInt64",
	"Float", "Double", "Boolean", "String", "DateTime", "Text", "UUID", "DataSet", "Bytes",
	"File", "Template", "PropertySet", "PropertySetList", "Int8Array", "Int16Array",
	"Int32Array", "Int64Array", "UInt8Array", "UInt16Array", "UInt32Array", "UInt64Array",
	"FloatArray", "DoubleArray", "BooleanArray", "StringArray", "DateTimeArray",
}

// String returns the Sparkplug name of the datatype.
func (t DataType) String() string {
	if t.Valid() {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", uint32(t))
}

// Valid reports whether t is a datatype defined by Sparkplug B.
func (t DataType) Valid() bool {
	return t <= maxDataType
}

func (t DataType) isSignedInt() bool {
	return t >= TypeInt8 && t <= TypeInt64
}

func (t DataType) isUnsignedInt() bool {
	return (t >= TypeUInt8 && t <= TypeUInt64) || t == TypeDateTime
}

func (t DataType) isArray() bool {
	return t >= TypeInt8Array && t <= TypeDateTimeArray
}
